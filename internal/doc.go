// Package internal contains the implementation packages of blockforge.
//
// # Package Organization
//
//   - config: project configuration loaded through viper
//   - logging, errors: structured logging and the ForgeError taxonomy
//   - validation: names, paths, origins, publish targets
//   - schema: field definitions, preview-state validation, TypeScript output
//   - registry: the set of discovered resources and their preview state
//   - scanner: discovery of blocks and templates under the resource roots
//   - build: compilation through esbuild and the optional CSS compiler
//   - watcher: filesystem feed and the per-root debounced rebuild coordinator
//   - websocket: hot-reload notifications to preview sessions
//   - publish, catalog: asynchronous publish tasks and the catalog client
//   - server: the preview pages, JSON API and event streams
//   - di: wiring of all of the above for the commands
//
// # Data Flow
//
// The scanner fills the registry. The builder compiles registry entries into
// the artifact store. The watcher classifies file changes and asks the
// coordinator to rebuild, which records artifacts and notifies preview
// sessions. The server reads the registry and the artifact store and hands
// publish requests to the tracker, which compiles a production bundle and
// sends it to the catalog.
//
// Registry entries are replaced wholesale; readers always see a complete
// snapshot of a resource. A failed build never replaces the last good
// artifact.
package internal
