package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"iqbot/internal/config"
	"iqbot/internal/logger"
	"iqbot/internal/telemetry"
	"iqbot/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrSnapshotNotFound is returned by Load when nothing was saved yet.
var ErrSnapshotNotFound = errors.New("workspace snapshot not found")

// insertBatch bounds the documents sent per InsertMany.
const insertBatch = 500

// entryDoc is one index entry stored in its own document, so large indexes
// stay under the BSON document limit.
type entryDoc struct {
	WorkspaceID string       `bson:"workspace_id"`
	Generation  string       `bson:"generation"`
	Position    int          `bson:"position"`
	Vector      []float32    `bson:"vector"`
	Chunk       models.Chunk `bson:"chunk"`
}

// workspaceDoc points at the generation of entries written by the last
// completed save.
type workspaceDoc struct {
	models.WorkspaceSnapshot `bson:",inline"`
	Generation               string `bson:"generation"`
}

// SnapshotStore persists workspaces in MongoDB: one document per workspace
// plus one document per index entry.
type SnapshotStore struct {
	workspaces *mongo.Collection
	entries    *mongo.Collection
	metrics    *telemetry.Metrics
}

func NewSnapshotStore(client *mongo.Client, dbName string, metrics *telemetry.Metrics) *SnapshotStore {
	db := client.Database(dbName)
	return &SnapshotStore{
		workspaces: db.Collection(config.WorkspacesCollection),
		entries:    db.Collection(config.IndexEntriesCollection),
		metrics:    metrics,
	}
}

// Save replaces the stored copy of the workspace. Entries are written under
// a fresh generation, then the workspace document is switched to it, then
// entries of older generations are removed. A save that fails halfway leaves
// the previous copy loadable.
func (s *SnapshotStore) Save(ctx context.Context, snap models.WorkspaceSnapshot) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordSnapshot("save", err == nil)
	}()

	generation := uuid.NewString()
	for from := 0; from < len(snap.Entries); from += insertBatch {
		to := from + insertBatch
		if to > len(snap.Entries) {
			to = len(snap.Entries)
		}
		docs := make([]interface{}, 0, to-from)
		for i := from; i < to; i++ {
			docs = append(docs, entryDoc{
				WorkspaceID: snap.WorkspaceID,
				Generation:  generation,
				Position:    i,
				Vector:      snap.Entries[i].Vector,
				Chunk:       snap.Entries[i].Chunk,
			})
		}
		if _, err = s.entries.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
			s.dropGeneration(snap.WorkspaceID, generation)
			return fmt.Errorf("failed to store entries: %w", err)
		}
	}

	snap.EntryCount = len(snap.Entries)
	_, err = s.workspaces.ReplaceOne(ctx,
		bson.M{"_id": snap.WorkspaceID},
		workspaceDoc{WorkspaceSnapshot: snap, Generation: generation},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		s.dropGeneration(snap.WorkspaceID, generation)
		return fmt.Errorf("failed to store workspace: %w", err)
	}

	// Stale entries are garbage; Load never reads them.
	if _, derr := s.entries.DeleteMany(ctx, bson.M{
		"workspace_id": snap.WorkspaceID,
		"generation":   bson.M{"$ne": generation},
	}); derr != nil {
		logger.Warn("Failed to prune old snapshot entries", "workspace", snap.WorkspaceID, "error", derr)
	}

	logger.Debug("Workspace snapshot saved",
		"workspace", snap.WorkspaceID,
		"revision", snap.Revision,
		"entries", snap.EntryCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// dropGeneration removes the entries of an abandoned save.
func (s *SnapshotStore) dropGeneration(workspaceID, generation string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.entries.DeleteMany(ctx, bson.M{"workspace_id": workspaceID, "generation": generation}); err != nil {
		logger.Warn("Failed to drop partial snapshot entries", "workspace", workspaceID, "error", err)
	}
}

// Load reads the stored copy of a workspace with its entries in insertion
// order.
func (s *SnapshotStore) Load(ctx context.Context, workspaceID string) (snap *models.WorkspaceSnapshot, err error) {
	defer func() {
		s.metrics.RecordSnapshot("load", err == nil || errors.Is(err, ErrSnapshotNotFound))
	}()

	var doc workspaceDoc
	if err = s.workspaces.FindOne(ctx, bson.M{"_id": workspaceID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}
	stored := doc.WorkspaceSnapshot

	cursor, err := s.entries.Find(ctx,
		bson.M{"workspace_id": workspaceID, "generation": doc.Generation},
		options.Find().SetSort(bson.D{{Key: "position", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	defer cursor.Close(ctx)

	stored.Entries = make([]models.IndexEntry, 0, stored.EntryCount)
	for cursor.Next(ctx) {
		var entry entryDoc
		if err = cursor.Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode entry: %w", err)
		}
		stored.Entries = append(stored.Entries, models.IndexEntry{Vector: entry.Vector, Chunk: entry.Chunk})
	}
	if err = cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}
	if len(stored.Entries) != stored.EntryCount {
		return nil, fmt.Errorf("snapshot of %s is incomplete: %d of %d entries", workspaceID, len(stored.Entries), stored.EntryCount)
	}
	return &stored, nil
}

// Delete removes the stored copy of a workspace.
func (s *SnapshotStore) Delete(ctx context.Context, workspaceID string) error {
	if _, err := s.entries.DeleteMany(ctx, bson.M{"workspace_id": workspaceID}); err != nil {
		return err
	}
	_, err := s.workspaces.DeleteOne(ctx, bson.M{"_id": workspaceID})
	return err
}
