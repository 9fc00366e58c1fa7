package learner

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/nn"
	"github.com/soundprediction/ordino/pkg/sampler"
)

// ErrInvalidSnapshotName is returned when a snapshot name contains path
// traversal or invalid characters.
var ErrInvalidSnapshotName = errors.New("invalid snapshot name: contains path traversal or invalid characters")

// ParamState is the serialized form of one model parameter.
type ParamState struct {
	Name string    `json:"name"`
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// SnapshotParams copies the current parameter values into a serializable
// snapshot. Gradients are not part of run state.
func SnapshotParams(params []*nn.Parameter) []ParamState {
	out := make([]ParamState, len(params))
	for i, p := range params {
		data := make([]float64, len(p.Data))
		copy(data, p.Data)
		out[i] = ParamState{Name: p.Name, Rows: p.Rows, Cols: p.Cols, Data: data}
	}
	return out
}

// RestoreParams loads a snapshot into a model's parameters, matched by
// name. Every parameter must be present with its exact shape; anything
// else means the model no longer matches the run that produced the
// snapshot.
func RestoreParams(states []ParamState, into []*nn.Parameter) error {
	if len(states) != len(into) {
		return fmt.Errorf("%w: snapshot has %d parameters, model has %d",
			letor.ErrConfiguration, len(states), len(into))
	}
	byName := make(map[string]ParamState, len(states))
	for _, st := range states {
		byName[st.Name] = st
	}
	for _, p := range into {
		st, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("%w: parameter %q missing from snapshot", letor.ErrConfiguration, p.Name)
		}
		if st.Rows != p.Rows || st.Cols != p.Cols {
			return fmt.Errorf("%w: parameter %q is %dx%d in the snapshot, %dx%d in the model",
				letor.ErrConfiguration, p.Name, st.Rows, st.Cols, p.Rows, p.Cols)
		}
		copy(p.Data, st.Data)
	}
	return nil
}

// Checkpoint is the complete persisted state of a run after a finished
// epoch: enough to resume training from the next epoch without replaying
// records or re-deriving randomness.
type Checkpoint struct {
	Epoch     int64                      `json:"epoch"`
	Step      int64                      `json:"step"`
	SavedAt   time.Time                  `json:"saved_at"`
	Cursor    sampler.Cursor             `json:"cursor"`
	Listeners map[string]json.RawMessage `json:"listeners,omitempty"`
	Params    []ParamState               `json:"-"`
	Optimizer json.RawMessage            `json:"-"`
}

// latestPointer names the most recently completed checkpoint directory.
type latestPointer struct {
	Epoch int64  `json:"epoch"`
	Dir   string `json:"dir"`
}

// Manager persists checkpoints and best-model snapshots under a run
// directory:
//
//	<dir>/checkpoints/epoch-NNNN/{manifest,params,optimizer}.json
//	<dir>/checkpoints/latest.json
//	<dir>/best/<name>/params.json
//
// Epoch directories are never deleted implicitly; retention is the
// caller's concern. The latest pointer is written last and atomically, so
// a crash mid-save leaves the previous checkpoint authoritative.
type Manager struct {
	dir string
}

// NewManager creates a checkpoint manager rooted at dir.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: checkpoint manager needs a directory", letor.ErrConfiguration)
	}
	if err := os.MkdirAll(filepath.Join(dir, "checkpoints"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// Dir returns the run directory the manager writes under.
func (m *Manager) Dir() string { return m.dir }

// validateSnapshotName checks that a name is safe for use as a path
// component. It rejects names containing path separators, path traversal
// sequences, or null bytes.
func validateSnapshotName(name string) error {
	if name == "" {
		return ErrInvalidSnapshotName
	}
	if strings.Contains(name, "..") {
		return ErrInvalidSnapshotName
	}
	if strings.ContainsAny(name, `/\`) {
		return ErrInvalidSnapshotName
	}
	if strings.ContainsRune(name, '\x00') {
		return ErrInvalidSnapshotName
	}
	return nil
}

// writeFileAtomic writes data to a temporary file and renames it into
// place, so readers never observe a partial write.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (m *Manager) epochDir(epoch int64) string {
	return filepath.Join(m.dir, "checkpoints", fmt.Sprintf("epoch-%04d", epoch))
}

func (m *Manager) latestPath() string {
	return filepath.Join(m.dir, "checkpoints", "latest.json")
}

// Save persists a checkpoint into its epoch directory and then moves the
// latest pointer. The pointer flip is the commit point: until it happens,
// Load still returns the previous checkpoint.
func (m *Manager) Save(cp *Checkpoint) error {
	cp.SavedAt = time.Now().UTC()

	dir := m.epochDir(cp.Epoch)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	params, err := json.Marshal(cp.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, "params.json"), params); err != nil {
		return err
	}
	if len(cp.Optimizer) > 0 {
		if err := writeFileAtomic(filepath.Join(dir, "optimizer.json"), cp.Optimizer); err != nil {
			return err
		}
	}
	manifest, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, "manifest.json"), manifest); err != nil {
		return err
	}

	pointer, err := json.Marshal(latestPointer{Epoch: cp.Epoch, Dir: filepath.Base(dir)})
	if err != nil {
		return fmt.Errorf("failed to marshal latest pointer: %w", err)
	}
	return writeFileAtomic(m.latestPath(), pointer)
}

// Load retrieves the most recent checkpoint, or (nil, nil) when the run
// has never checkpointed.
func (m *Manager) Load() (*Checkpoint, error) {
	raw, err := os.ReadFile(m.latestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read latest pointer: %w", err)
	}
	var pointer latestPointer
	if err := json.Unmarshal(raw, &pointer); err != nil {
		return nil, fmt.Errorf("failed to decode latest pointer: %w", err)
	}

	dir := filepath.Join(m.dir, "checkpoints", pointer.Dir)
	manifest, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint manifest: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(manifest, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint manifest: %w", err)
	}

	params, err := os.ReadFile(filepath.Join(dir, "params.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint parameters: %w", err)
	}
	if err := json.Unmarshal(params, &cp.Params); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint parameters: %w", err)
	}

	opt, err := os.ReadFile(filepath.Join(dir, "optimizer.json"))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read optimizer state: %w", err)
		}
	} else {
		cp.Optimizer = opt
	}
	return &cp, nil
}

func (m *Manager) snapshotPath(name string) (string, error) {
	if err := validateSnapshotName(name); err != nil {
		return "", err
	}
	return filepath.Join(m.dir, "best", name, "params.json"), nil
}

// SaveSnapshot persists a named parameter snapshot (best model per
// monitored measure), overwriting any previous one of the same name.
func (m *Manager) SaveSnapshot(name string, params []*nn.Parameter) error {
	path, err := m.snapshotPath(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	data, err := json.Marshal(SnapshotParams(params))
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return writeFileAtomic(path, data)
}

// LoadSnapshot restores a named parameter snapshot into a model.
func (m *Manager) LoadSnapshot(name string, into []*nn.Parameter) error {
	path, err := m.snapshotPath(name)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no snapshot retained under %q", name)
		}
		return fmt.Errorf("failed to read snapshot %q: %w", name, err)
	}
	var states []ParamState
	if err := json.Unmarshal(raw, &states); err != nil {
		return fmt.Errorf("failed to decode snapshot %q: %w", name, err)
	}
	return RestoreParams(states, into)
}
