package report

import (
	"context"
	"fmt"

	"roadwatch/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ReportRepository interface {
	EnsureIndexes(ctx context.Context) error
	Create(ctx context.Context, report *Report) error
	Get(ctx context.Context, id string) (*Report, error)
	UpdateStatus(ctx context.Context, id string, next Status) (*Report, error)
	SetAIResult(ctx context.Context, id string, result map[string]any) (*Report, error)
	List(ctx context.Context, filter Filter) ([]Report, error)
	CountSummary(ctx context.Context) (*Summary, error)
}

type ReportRepositoryImpl struct {
	collection *mongo.Collection
}

func NewReportRepository(db *database.MongodbDB) ReportRepository {
	return &ReportRepositoryImpl{
		collection: db.DB.Collection("reports"),
	}
}

// EnsureIndexes creates the unique index on the public id. The index is
// what makes concurrent creates on the same id race-safe: the second
// insert fails with a duplicate-key error.
func (r *ReportRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *ReportRepositoryImpl) Create(ctx context.Context, report *Report) error {
	_, err := r.collection.InsertOne(ctx, report)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *ReportRepositoryImpl) Get(ctx context.Context, id string) (*Report, error) {
	var report Report
	err := r.collection.FindOne(ctx, bson.M{"id": id}).Decode(&report)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &report, nil
}

// UpdateStatus advances the lifecycle with a compare-and-set: the filter
// matches only when the current status is a legal predecessor of next and
// the report carries an analysis result (an unanalyzed report stays
// Pending). Two racing updates can never both apply the same transition.
func (r *ReportRepositoryImpl) UpdateStatus(ctx context.Context, id string, next Status) (*Report, error) {
	preds := AllowedPredecessors(next)
	if len(preds) == 0 {
		return nil, ErrInvalidTransition
	}

	filter := bson.M{
		"id":        id,
		"status":    bson.M{"$in": preds},
		"ai_result": bson.M{"$exists": true},
	}
	update := bson.M{"$set": bson.M{"status": next}}

	var updated Report
	err := r.collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// No match: either the report does not exist or the transition is illegal.
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrInvalidTransition
}

func (r *ReportRepositoryImpl) SetAIResult(ctx context.Context, id string, result map[string]any) (*Report, error) {
	var updated Report
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{"ai_result": result}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&updated)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &updated, nil
}

// List returns a live snapshot at call time, newest first.
func (r *ReportRepositoryImpl) List(ctx context.Context, filter Filter) ([]Report, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Severity != "" {
		query["severity"] = filter.Severity
	}
	if filter.Type != "" {
		query["type"] = filter.Type
	}

	cursor, err := r.collection.Find(ctx, query,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer cursor.Close(ctx)

	var reports []Report
	if err = cursor.All(ctx, &reports); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return reports, nil
}

// CountSummary rolls the whole collection up into per-status and
// per-severity counts with a $group pipeline. Buckets are zero-filled for
// every known enum value so consumers never see missing keys.
func (r *ReportRepositoryImpl) CountSummary(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		ByStatus:   make(map[Status]int64, len(AllStatuses)),
		BySeverity: make(map[Severity]int64, len(AllSeverities)),
	}
	for _, s := range AllStatuses {
		summary.ByStatus[s] = 0
	}
	for _, s := range AllSeverities {
		summary.BySeverity[s] = 0
	}

	statusCounts, err := r.groupCount(ctx, "$status")
	if err != nil {
		return nil, err
	}
	for key, count := range statusCounts {
		summary.ByStatus[Status(key)] = count
		summary.Total += count
	}

	severityCounts, err := r.groupCount(ctx, "$severity")
	if err != nil {
		return nil, err
	}
	for key, count := range severityCounts {
		summary.BySeverity[Severity(key)] = count
	}

	return summary, nil
}

func (r *ReportRepositoryImpl) groupCount(ctx context.Context, field string) (map[string]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: field},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID    string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.ID] = row.Count
	}
	return counts, nil
}
