// Package historystore persists completed searches so users can revisit
// past leads without paying for a new lookup.
package historystore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/leadscout/pkg/tokens"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrSearchNotFound signals a missing or foreign history document.
var ErrSearchNotFound = errors.New("search not found")

// SearchRecord is one persisted search: the query, its settlement, and the
// raw result documents.
type SearchRecord struct {
	SearchID      string          `json:"search_id"`
	UserID        string          `json:"user_id"`
	Keyword       string          `json:"keyword"`
	Location      string          `json:"location"`
	RadiusMeters  int             `json:"radius"`
	MaxResults    int             `json:"max_results"`
	ResultsCount  int             `json:"results_count"`
	TokensCharged int64           `json:"tokens_charged"`
	Results       []byte          `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SearchQuery mirrors the search_queries table.
type SearchQuery struct {
	SearchID      string         `gorm:"type:uuid;primaryKey"`
	UserID        string         `gorm:"not null;index:idx_search_queries_user_created,priority:1"`
	Keyword       string         `gorm:"not null"`
	Location      string         `gorm:"not null"`
	RadiusMeters  int            `gorm:"not null"`
	MaxResults    int            `gorm:"not null"`
	ResultsCount  int            `gorm:"not null"`
	TokensCharged int64          `gorm:"not null"`
	Results       datatypes.JSON `gorm:"not null"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_search_queries_user_created,priority:2"`
}

func (SearchQuery) TableName() string { return "search_queries" }

func (query *SearchQuery) BeforeCreate(tx *gorm.DB) error {
	if query.SearchID == "" {
		query.SearchID = uuid.NewString()
	}
	return nil
}

// Store persists search history with GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Save appends one search document and returns its id.
func (store *Store) Save(ctx context.Context, record SearchRecord) (string, error) {
	model := SearchQuery{
		SearchID:      record.SearchID,
		UserID:        record.UserID,
		Keyword:       record.Keyword,
		Location:      record.Location,
		RadiusMeters:  record.RadiusMeters,
		MaxResults:    record.MaxResults,
		ResultsCount:  record.ResultsCount,
		TokensCharged: record.TokensCharged,
		Results:       datatypes.JSON(record.Results),
		CreatedAt:     record.CreatedAt,
	}
	if len(model.Results) == 0 {
		model.Results = datatypes.JSON([]byte("[]"))
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return "", tokens.WrapError("store", "search", "insert", err)
	}
	return model.SearchID, nil
}

// ListByUser returns a user's searches, newest first. Results payloads are
// omitted from listings.
func (store *Store) ListByUser(ctx context.Context, userID string, limit int) ([]SearchRecord, error) {
	var rows []SearchQuery
	query := store.db.WithContext(ctx).
		Select("search_id", "user_id", "keyword", "location", "radius_meters", "max_results", "results_count", "tokens_charged", "created_at").
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, tokens.WrapError("store", "search", "list", err)
	}
	records := make([]SearchRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, mapSearchQuery(row))
	}
	return records, nil
}

// GetByID returns one search document with its results, scoped to the
// owning user.
func (store *Store) GetByID(ctx context.Context, userID string, searchID string) (SearchRecord, error) {
	var model SearchQuery
	err := store.db.WithContext(ctx).
		Where("search_id = ? AND user_id = ?", searchID, userID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SearchRecord{}, tokens.WrapError("store", "search", "get", ErrSearchNotFound)
		}
		return SearchRecord{}, tokens.WrapError("store", "search", "get", err)
	}
	return mapSearchQuery(model), nil
}

func mapSearchQuery(model SearchQuery) SearchRecord {
	return SearchRecord{
		SearchID:      model.SearchID,
		UserID:        model.UserID,
		Keyword:       model.Keyword,
		Location:      model.Location,
		RadiusMeters:  model.RadiusMeters,
		MaxResults:    model.MaxResults,
		ResultsCount:  model.ResultsCount,
		TokensCharged: model.TokensCharged,
		Results:       []byte(model.Results),
		CreatedAt:     model.CreatedAt,
	}
}
