// Package backup writes and restores compressed snapshots of the task
// collection and runs them on a cron schedule.
//
// A snapshot file is a zstd frame holding a JSON envelope. The envelope
// carries a BLAKE3 digest of its encoded task list so truncated or edited
// files are rejected before anything is restored.
package backup

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/dohr-michael/stardust/internal/tasks"
)

// FormatVersion is the envelope version written by Encode.
const FormatVersion = 1

var (
	ErrDigestMismatch     = errors.New("snapshot digest mismatch")
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
)

// Snapshot is the decoded envelope of a backup file.
type Snapshot struct {
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	Count     int             `json:"count"`
	Digest    string          `json:"digest"`
	Tasks     json.RawMessage `json:"tasks"`
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("backup: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(256<<20))
	if err != nil {
		panic("backup: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode builds a compressed snapshot of ts.
func Encode(ts []tasks.Task, createdAt time.Time) ([]byte, error) {
	if ts == nil {
		ts = []tasks.Task{}
	}
	body, err := json.Marshal(ts)
	if err != nil {
		return nil, fmt.Errorf("encode tasks: %w", err)
	}

	envelope, err := json.Marshal(Snapshot{
		Version:   FormatVersion,
		CreatedAt: createdAt.UTC(),
		Count:     len(ts),
		Digest:    digest(body),
		Tasks:     body,
	})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return zstdEncoder.EncodeAll(envelope, nil), nil
}

// Decode decompresses and verifies a snapshot, returning the envelope and
// its tasks.
func Decode(data []byte) (Snapshot, []tasks.Task, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("zstd decompress: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != FormatVersion {
		return Snapshot{}, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version)
	}
	if got := digest(snap.Tasks); got != snap.Digest {
		return Snapshot{}, nil, fmt.Errorf("%w: have %s, want %s", ErrDigestMismatch, got, snap.Digest)
	}

	var ts []tasks.Task
	if err := json.Unmarshal(snap.Tasks, &ts); err != nil {
		return Snapshot{}, nil, fmt.Errorf("decode tasks: %w", err)
	}
	for i := range ts {
		ts[i].Normalize()
	}
	return snap, ts, nil
}

func digest(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}
