package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/schema"
)

// PreviewStateFile is the per-resource preview state document. It is written
// only through SetPreviewState and never triggers a rebuild.
const PreviewStateFile = "preview.json"

// SetPreviewState validates state against the resource schema, overwrites
// the preview state file and updates the registry record.
func (r *Registry) SetPreviewState(key Key, state map[string]interface{}) (*Resource, error) {
	if state == nil {
		state = map[string]interface{}{}
	}

	return r.Update(key, func(res *Resource) error {
		if err := schema.ValidatePreviewState(res.Schema, state); err != nil {
			return errors.NewValidationError(errors.CodeInvalidRequest, "preview state does not match schema").
				WithResource(key.String()).
				WithContext("details", err.Error())
		}

		if err := WritePreviewState(res.RootPath, state); err != nil {
			return err
		}

		res.PreviewState = CloneState(state)
		return nil
	})
}

// WritePreviewState overwrites the preview state file in dir.
func WritePreviewState(dir string, state map[string]interface{}) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.WrapIO(err, "PREVIEW_ENCODE", "failed to encode preview state")
	}

	target := filepath.Join(dir, PreviewStateFile)
	tmp, err := os.CreateTemp(dir, "."+PreviewStateFile+"-*")
	if err != nil {
		return errors.WrapIO(err, "PREVIEW_WRITE", "failed to create preview state file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return errors.WrapIO(err, "PREVIEW_WRITE", "failed to write preview state")
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapIO(err, "PREVIEW_WRITE", "failed to write preview state")
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return errors.WrapIO(err, "PREVIEW_WRITE", fmt.Sprintf("failed to replace %s", target))
	}
	return nil
}

// ReadPreviewState reads the preview state file in dir. A missing file
// yields an empty object.
func ReadPreviewState(dir string) (map[string]interface{}, error) {
	data, err := os.ReadFile(filepath.Join(dir, PreviewStateFile))
	if os.IsNotExist(err) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, errors.WrapIO(err, "PREVIEW_READ", "failed to read preview state")
	}

	var state map[string]interface{}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidRequest, "preview state is not a JSON object").
			WithLocation(filepath.Join(dir, PreviewStateFile), 0, 0)
	}
	if state == nil {
		state = map[string]interface{}{}
	}
	return state, nil
}
