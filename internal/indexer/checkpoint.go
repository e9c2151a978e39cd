package indexer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"carto/internal/config"
)

const checkpointFile = "checkpoint.json"

// Checkpoint records durable progress of an interrupted indexing run. The
// embedded vectors themselves live in the index snapshot, which is saved at
// every checkpoint; the checkpoint only carries the job bookkeeping needed
// to resume or revalidate against the embedding server.
type Checkpoint struct {
	LocalJobID      string    `json:"localJobId"`
	RemoteJobID     string    `json:"remoteJobId,omitempty"`
	TotalChunks     int       `json:"totalChunks"`
	ProcessedChunks int       `json:"processedChunks"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func checkpointPath(rootPath string) string {
	return filepath.Join(rootPath, config.CartoDirName, checkpointFile)
}

// LoadCheckpoint reads the checkpoint, or returns (nil, nil) when none
// exists. A corrupt checkpoint is treated as absent; the snapshot still
// carries every vector embedded before the interruption.
func LoadCheckpoint(rootPath string) (*Checkpoint, error) {
	data, err := os.ReadFile(checkpointPath(rootPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, nil
	}
	return &cp, nil
}

// SaveCheckpoint writes the checkpoint atomically.
func SaveCheckpoint(rootPath string, cp *Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}

	path := checkpointPath(rootPath)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ClearCheckpoint removes the checkpoint after a run finishes.
func ClearCheckpoint(rootPath string) {
	_ = os.Remove(checkpointPath(rootPath))
}
