package services

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"echomind/internal/database"
	"echomind/internal/models"
)

// memoryTextCap bounds what the default sink persists per task.
const memoryTextCap = 1200

// MemoryService is the long-term memory store client. Search is bounded by a
// short timeout and returns an empty slice on any failure; the pipeline
// degrades instead of propagating memory errors.
type MemoryService struct {
	mongodb *database.MongoDB
	timeout time.Duration
}

// memoryDoc is the stored memory shape.
type memoryDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Text       string             `bson:"text"`
	SubjectKey string             `bson:"subject_key"`
	Source     string             `bson:"source"`
	CreatedAt  time.Time          `bson:"created_at"`
}

// NewMemoryService creates a memory service. mongodb may be nil, in which
// case every search returns empty and adds are dropped.
func NewMemoryService(mongodb *database.MongoDB, timeout time.Duration) *MemoryService {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &MemoryService{mongodb: mongodb, timeout: timeout}
}

// Search returns up to limit memory snippets for the subject key, most
// recent first. Failures are logged and produce an empty result.
func (s *MemoryService) Search(ctx context.Context, query, subjectKey string, limit int) []models.MemorySnippet {
	if s.mongodb == nil {
		return nil
	}
	if limit <= 0 {
		limit = 3
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filter := bson.M{"subject_key": subjectKey}
	if query != "" {
		filter["text"] = bson.M{"$regex": primitive.Regex{Pattern: escapeRegex(query), Options: "i"}}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.mongodb.Collection(database.CollectionMemories).Find(ctx, filter, opts)
	if err != nil {
		log.Printf("⚠️  [MEMORY] search failed subject=%s: %v", subjectKey, err)
		return nil
	}
	defer cursor.Close(ctx)

	var snippets []models.MemorySnippet
	for cursor.Next(ctx) {
		var doc memoryDoc
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		snippets = append(snippets, models.MemorySnippet{Text: doc.Text, Score: 1.0})
	}
	return snippets
}

// Add persists one memory entry, capped at memoryTextCap characters.
func (s *MemoryService) Add(ctx context.Context, text, subjectKey, source string) error {
	if s.mongodb == nil || text == "" {
		return nil
	}
	if runes := []rune(text); len(runes) > memoryTextCap {
		text = string(runes[:memoryTextCap])
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.mongodb.Collection(database.CollectionMemories).InsertOne(ctx, memoryDoc{
		Text:       text,
		SubjectKey: subjectKey,
		Source:     source,
		CreatedAt:  time.Now(),
	})
	return err
}

// MemorySinkFor builds the default worker result sink: every successful task
// with a non-empty memory context persists a derived memory, best-effort.
func MemorySinkFor(memory *MemoryService) ResultSink {
	return func(task *models.Task, result *models.TaskResult) error {
		if !result.Success || result.MemoryContext == "" {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), memory.timeout)
		defer cancel()
		return memory.Add(ctx, result.MemoryContext, task.Payload.SubjectKey, "cognition")
	}
}

// escapeRegex neutralizes regex metacharacters in user-derived queries.
func escapeRegex(s string) string {
	special := `\.+*?()|[]{}^$`
	out := make([]rune, 0, len(s))
	for _, r := range s {
		for _, sp := range special {
			if r == sp {
				out = append(out, '\\')
				break
			}
		}
		out = append(out, r)
	}
	return string(out)
}
