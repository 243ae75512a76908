package publish

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/conneroisu/blockforge/internal/build"
	"github.com/conneroisu/blockforge/internal/catalog"
	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/logging"
	"github.com/conneroisu/blockforge/internal/registry"
	"github.com/conneroisu/blockforge/internal/schema"
	"github.com/conneroisu/blockforge/internal/validation"
)

// CodeValidationFailed marks a task whose package failed pre-publish checks.
const CodeValidationFailed = "VALIDATION_FAILED"

// Compiler produces the production artifact. *build.Compiler implements it.
type Compiler interface {
	Compile(ctx context.Context, res *registry.Resource, target build.OutputTarget, opts build.Options) *build.Artifact
}

// Publisher performs the remote publish. *catalog.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, p catalog.Payload) (*catalog.Result, error)
}

// Request asks for one resource to be published.
type Request struct {
	ResourceType string  `json:"resourceType"`
	ResourceName string  `json:"resourceName"`
	Target       string  `json:"target"`
	WorkspaceID  string  `json:"workspaceId,omitempty"`
	Options      Options `json:"options"`
}

// Options tune the production build of a publish.
type Options struct {
	SourceMaps bool `json:"sourceMaps"`
}

// Config bounds the tracker.
type Config struct {
	// Timeout is the hard limit on the remote publish call.
	Timeout time.Duration
	// MaxTasks caps retained tasks; finished tasks are evicted first.
	MaxTasks int
	// Retention is how long finished tasks are kept.
	Retention time.Duration
	// OutputDir receives production artifacts.
	OutputDir string
}

// Tracker owns all publish tasks and is their only writer.
type Tracker struct {
	registry  *registry.Registry
	compiler  Compiler
	publisher Publisher
	store     Store
	cfg       Config
	logger    logging.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	changed map[string]chan struct{}
}

// NewTracker creates a tracker. A nil store gets an in-memory one.
func NewTracker(reg *registry.Registry, compiler Compiler, publisher Publisher, store Store, cfg Config, logger logging.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		registry:  reg,
		compiler:  compiler,
		publisher: publisher,
		store:     store,
		cfg:       cfg,
		logger:    logger.WithComponent("publish"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		changed:   make(map[string]chan struct{}),
	}
}

// Create validates req, allocates a pending task and starts the publish in
// the background. It returns without waiting for any step.
func (t *Tracker) Create(ctx context.Context, req Request) (string, error) {
	key := registry.Key{Type: req.ResourceType, Name: req.ResourceName}
	if err := key.Validate(); err != nil {
		return "", errors.ErrInvalidRequest(err.Error())
	}
	if err := validation.ValidateTarget(req.Target, req.WorkspaceID); err != nil {
		return "", errors.ErrInvalidRequest(err.Error())
	}
	res, ok := t.registry.Get(key)
	if !ok {
		return "", errors.ErrResourceNotFound(key.String())
	}
	if t.publisher == nil {
		return "", errors.NewConfigError(errors.CodeInvalidConfig, "no catalog endpoint configured (publish.endpoint)")
	}

	t.evict()

	if inflight := t.inFlight(key); inflight != "" {
		t.logger.Warn(ctx, nil, "Publish already in flight for resource; starting another",
			"resource", key.String(), "existing_task", inflight)
	}

	now := t.now()
	task := &Task{
		ID:           uuid.NewString(),
		ResourceType: key.Type,
		ResourceName: key.Name,
		Target:       req.Target,
		WorkspaceID:  req.WorkspaceID,
		Status:       StatusPending,
		Progress:     progressSchedule[StatusPending],
		Steps:        []Step{},
		Version:      res.Package.Version,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := t.store.Insert(task); err != nil {
		return "", err
	}

	t.mu.Lock()
	t.changed[task.ID] = make(chan struct{})
	t.mu.Unlock()

	t.logger.Info(ctx, "Publish task created",
		"task", task.ID, "resource", key.String(), "target", req.Target)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(task.ID, res, req)
	}()

	return task.ID, nil
}

// Get returns a snapshot of the task.
func (t *Tracker) Get(id string) (*Task, bool) {
	return t.store.Get(id)
}

// List returns every retained task, newest first.
func (t *Tracker) List() []*Task {
	var tasks []*Task
	t.store.ForEach(func(task *Task) bool {
		tasks = append(tasks, task)
		return true
	})
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks
}

// Watch streams snapshots of the task until it reaches a terminal state or
// ctx ends; the channel is then closed. The first snapshot is sent
// immediately. A slow reader may skip intermediate snapshots but always
// receives the terminal one.
func (t *Tracker) Watch(ctx context.Context, id string) (<-chan *Task, error) {
	if _, ok := t.store.Get(id); !ok {
		return nil, errors.NewValidationError(errors.CodeResourceNotFound, "task not found").
			WithContext("task", id)
	}

	out := make(chan *Task, 1)
	go func() {
		defer close(out)
		var lastUpdate time.Time
		var lastSteps = -1
		for {
			changed := t.changedChan(id)
			task, ok := t.store.Get(id)
			if !ok {
				return
			}

			if len(task.Steps) != lastSteps || !task.UpdatedAt.Equal(lastUpdate) {
				select {
				case out <- task:
				case <-ctx.Done():
					return
				}
				lastSteps, lastUpdate = len(task.Steps), task.UpdatedAt
			}

			if task.Status.Terminal() {
				return
			}

			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Wait blocks until every running publish has finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Shutdown cancels running publishes and waits for them to record their
// outcome.
func (t *Tracker) Shutdown(ctx context.Context) error {
	t.cancel()
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// changedChan returns a channel closed at the next update of id. Tasks
// that are gone or finished get an already closed channel.
func (t *Tracker) changedChan(id string) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.changed[id]
	if !ok {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return ch
}

func (t *Tracker) signal(id string, terminal bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.changed[id]; ok {
		close(ch)
		if terminal {
			delete(t.changed, id)
		} else {
			t.changed[id] = make(chan struct{})
		}
	}
}

func (t *Tracker) advance(id string, to Status, message string) bool {
	task, err := t.store.Update(id, func(task *Task) error {
		return task.advance(to, message, t.now())
	})
	if err != nil {
		t.logger.Error(t.ctx, err, "Task transition rejected", "task", id, "to", string(to))
		return false
	}
	t.signal(id, task.Status.Terminal())
	t.logger.Debug(t.ctx, "Task advanced", "task", id, "status", string(task.Status), "progress", task.Progress)
	return true
}

func (t *Tracker) fail(id string, err error) {
	code := errors.GetCode(err)
	if code == "" {
		code = errors.CodeInternal
	}

	var remote *catalog.RemoteError
	task, uerr := t.store.Update(id, func(task *Task) error {
		if ferr := task.fail(code, failureMessage(err), t.now()); ferr != nil {
			return ferr
		}
		if stderrors.As(err, &remote) {
			task.RemoteCode = remote.Code
			task.Quota = remote.Quota()
		}
		return nil
	})
	if uerr != nil {
		t.logger.Error(t.ctx, uerr, "Task failure not recorded", "task", id)
		return
	}
	t.signal(id, true)
	t.logger.Warn(t.ctx, err, "Publish failed",
		"task", id,
		"resource", task.ResourceType+"/"+task.ResourceName,
		"code", code)
}

// run drives one task to a terminal state.
func (t *Tracker) run(id string, res *registry.Resource, req Request) {
	ctx := t.ctx
	defer func() {
		if r := recover(); r != nil {
			t.fail(id, errors.NewInternalError(errors.CodeInternal, fmt.Sprintf("publish panicked: %v", r), nil))
		}
	}()

	if !t.advance(id, StatusBuilding, "Compiling production bundle") {
		return
	}
	artifact := t.compiler.Compile(ctx, res, build.OutputTarget{Dir: t.cfg.OutputDir}, build.Options{
		Minify:     true,
		SourceMaps: req.Options.SourceMaps,
		Layout:     build.LayoutProduction,
	})
	if !artifact.OK() {
		t.fail(id, errors.NewBuildError(artifact.Code, "build failed: "+artifact.Reason, nil))
		return
	}

	if !t.advance(id, StatusValidating, "Validating package") {
		return
	}
	if err := validatePackage(res, artifact); err != nil {
		t.fail(id, err)
		return
	}

	if !t.advance(id, StatusPublishing, "Publishing to catalog") {
		return
	}
	result, err := t.publish(ctx, payloadFor(res, req, artifact))
	if err != nil {
		t.fail(id, err)
		return
	}

	if _, err := t.store.Update(id, func(task *Task) error {
		task.Result = result
		return nil
	}); err != nil {
		t.logger.Error(ctx, err, "Recording publish result failed", "task", id)
	}
	if t.advance(id, StatusCompleted, fmt.Sprintf("Published %s@%s", res.Name, result.Version)) {
		t.logger.Info(ctx, "Publish completed", "task", id, "resource", res.Key().String(), "url", result.URL)
	}
}

// publish calls the publisher under the hard timeout. On timeout the call
// is abandoned; its context is cancelled but its result is ignored.
func (t *Tracker) publish(ctx context.Context, payload catalog.Payload) (*catalog.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		result *catalog.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := t.publisher.Publish(ctx, payload)
		done <- outcome{r, err}
	}()

	timer := time.NewTimer(t.cfg.Timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, classify(o.err)
		}
		if o.result == nil {
			return nil, errors.NewTaskError(errors.CodeTaskRemoteFailure, "catalog returned no result", nil)
		}
		return o.result, nil
	case <-timer.C:
		return nil, errors.NewTaskError(errors.CodeTaskTimeout,
			fmt.Sprintf("publish timed out after %s", t.cfg.Timeout), nil)
	case <-ctx.Done():
		return nil, errors.NewTaskError(errors.CodeTaskTransportFailure, "publish cancelled", ctx.Err())
	}
}

// failureMessage is the human text stored on a failed task.
func failureMessage(err error) string {
	var fe *errors.ForgeError
	if stderrors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	return err.Error()
}

// classify maps a publisher error onto the task failure taxonomy.
func classify(err error) error {
	var remote *catalog.RemoteError
	if stderrors.As(err, &remote) {
		return errors.NewTaskError(errors.CodeTaskRemoteFailure, remote.Error(), err)
	}
	var transport *catalog.TransportError
	if stderrors.As(err, &transport) {
		return errors.NewTaskError(errors.CodeTaskTransportFailure, transport.Error(), err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewTaskError(errors.CodeTaskTimeout, "publish timed out", err)
	}
	return errors.NewTaskError(errors.CodeTaskTransportFailure, err.Error(), err)
}

// validatePackage checks what the catalog will refuse anyway: a schema
// with problems, a missing or non-semver version, an empty bundle.
func validatePackage(res *registry.Resource, artifact *build.Artifact) error {
	if issues := schema.Validate(res.Schema); len(issues) > 0 {
		return errors.NewValidationError(CodeValidationFailed, "schema: "+issues[0].String())
	}
	version := res.Package.Version
	if !semver.IsValid("v" + version) {
		return errors.NewValidationError(CodeValidationFailed,
			fmt.Sprintf("package.json version %q is not a semantic version", version))
	}
	if len(artifact.Script) == 0 {
		return errors.NewValidationError(CodeValidationFailed, "compiled bundle is empty")
	}
	return nil
}

func payloadFor(res *registry.Resource, req Request, artifact *build.Artifact) catalog.Payload {
	return catalog.Payload{
		ResourceType: res.Type,
		Name:         res.Name,
		PackageName:  res.Package.Name,
		Version:      res.Package.Version,
		Target:       req.Target,
		WorkspaceID:  req.WorkspaceID,
		DisplayName:  res.DisplayName,
		Description:  res.Description,
		Category:     res.Category,
		Tags:         res.Tags,
		Schema:       res.Schema,
		Script:       string(artifact.Script),
		Stylesheet:   string(artifact.Stylesheet),
	}
}

// inFlight returns the id of a running task for key, if any.
func (t *Tracker) inFlight(key registry.Key) string {
	var id string
	t.store.ForEach(func(task *Task) bool {
		if task.ResourceType == key.Type && task.ResourceName == key.Name && !task.Status.Terminal() {
			id = task.ID
			return false
		}
		return true
	})
	return id
}

// evict drops finished tasks past retention, then the oldest finished
// tasks while more than MaxTasks are retained. Running tasks are never
// evicted.
func (t *Tracker) evict() {
	now := t.now()
	var finished []*Task
	t.store.ForEach(func(task *Task) bool {
		if task.Status.Terminal() && task.FinishedAt != nil {
			finished = append(finished, task)
		}
		return true
	})

	removed := 0
	var kept []*Task
	for _, task := range finished {
		if t.cfg.Retention > 0 && now.Sub(*task.FinishedAt) > t.cfg.Retention {
			t.store.Remove(task.ID)
			removed++
			continue
		}
		kept = append(kept, task)
	}

	if t.cfg.MaxTasks > 0 {
		sort.Slice(kept, func(i, j int) bool { return kept[i].FinishedAt.Before(*kept[j].FinishedAt) })
		// Leave room for the task about to be created.
		for len(kept) > 0 && t.store.Len() >= t.cfg.MaxTasks {
			t.store.Remove(kept[0].ID)
			kept = kept[1:]
			removed++
		}
	}

	if removed > 0 {
		t.logger.Debug(t.ctx, "Evicted finished tasks", "count", removed)
	}
}
