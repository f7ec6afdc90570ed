package mongostore

import (
	"time"

	"github.com/BaSui01/agentchorus/types"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type turnDoc struct {
	ID        int64     `bson:"_id"`
	Role      string    `bson:"role"`
	Content   string    `bson:"content"`
	Provider  string    `bson:"provider"`
	CreatedAt time.Time `bson:"created_at"`
}

type documentDoc struct {
	ID           int64     `bson:"_id"`
	Filename     string    `bson:"filename"`
	OriginalName string    `bson:"original_name"`
	Content      string    `bson:"content,omitempty"`
	FileType     string    `bson:"file_type"`
	MimeType     string    `bson:"mime_type"`
	FileSize     int64     `bson:"file_size"`
	CreatedAt    time.Time `bson:"created_at"`
}

type projectDoc struct {
	ID           int64     `bson:"_id"`
	Name         string    `bson:"name"`
	Description  string    `bson:"description"`
	Requirements string    `bson:"requirements"`
	Status       string    `bson:"status"`
	CreatedAt    time.Time `bson:"created_at"`
}

func turnsFromDocs(docs []turnDoc) []types.Turn {
	out := make([]types.Turn, 0, len(docs))
	for _, d := range docs {
		out = append(out, types.Turn{
			ID:        d.ID,
			Role:      types.Role(d.Role),
			Content:   d.Content,
			Provider:  d.Provider,
			Timestamp: d.CreatedAt,
		})
	}
	return out
}

func documentToDoc(d types.Document) documentDoc {
	doc := documentDoc{
		Filename:     d.Filename,
		OriginalName: d.OriginalName,
		Content:      d.Content,
		FileType:     d.FileType,
		MimeType:     d.MimeType,
		FileSize:     d.FileSize,
		CreatedAt:    d.CreatedAt,
	}
	if doc.Filename == "" {
		doc.Filename = doc.OriginalName
	}
	return doc
}

func (d documentDoc) toDocument() types.Document {
	return types.Document{
		ID:           d.ID,
		Filename:     d.Filename,
		OriginalName: d.OriginalName,
		Content:      d.Content,
		FileType:     d.FileType,
		MimeType:     d.MimeType,
		FileSize:     d.FileSize,
		CreatedAt:    d.CreatedAt,
	}
}

func projectToDoc(p types.Project) projectDoc {
	doc := projectDoc{
		Name:         p.Name,
		Description:  p.Description,
		Requirements: p.Requirements,
		Status:       p.Status,
		CreatedAt:    p.CreatedAt,
	}
	if doc.Status == "" {
		doc.Status = "active"
	}
	return doc
}

func (d projectDoc) toProject() types.Project {
	return types.Project{
		ID:           d.ID,
		Name:         d.Name,
		Description:  d.Description,
		Requirements: d.Requirements,
		Status:       d.Status,
		CreatedAt:    d.CreatedAt,
	}
}

// conversationalFilter 只匹配 user 与 assistant 轮次
func conversationalFilter() bson.D {
	return bson.D{{Key: "role", Value: bson.D{{Key: "$in", Value: bson.A{
		string(types.RoleUser), string(types.RoleAssistant),
	}}}}}
}

// findOptions 按 _id 排序；dir 为 1 升序、-1 降序；limit <= 0 不限制
func findOptions(dir, limit int, omitContent bool) *options.FindOptionsBuilder {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: dir}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if omitContent {
		opts.SetProjection(bson.D{{Key: "content", Value: 0}})
	}
	return opts
}
