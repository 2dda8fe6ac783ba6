package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/atmo/atmo/internal/cluster"
	"github.com/atmo/atmo/internal/job"
)

func (m *Mongo) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := m.jobs.InsertOne(ctx, j)
	if mongo.IsDuplicateKeyError(err) {
		return job.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("inserting spark job: %w", err)
	}
	return nil
}

func (m *Mongo) GetJob(ctx context.Context, id string) (*job.Job, error) {
	return m.findJob(ctx, bson.D{{Key: "_id", Value: id}}, id)
}

func (m *Mongo) GetJobByIdentifier(ctx context.Context, identifier string) (*job.Job, error) {
	return m.findJob(ctx, bson.D{{Key: "identifier", Value: identifier}}, identifier)
}

func (m *Mongo) findJob(ctx context.Context, filter bson.D, name string) (*job.Job, error) {
	var j job.Job
	err := m.jobs.FindOne(ctx, filter).Decode(&j)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, job.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding spark job %s: %w", name, err)
	}
	return &j, nil
}

func (m *Mongo) UpdateJob(ctx context.Context, j *job.Job) error {
	res, err := m.jobs.ReplaceOne(ctx, bson.D{{Key: "_id", Value: j.ID}}, j)
	if err != nil {
		return fmt.Errorf("updating spark job: %w", err)
	}
	if res.MatchedCount == 0 {
		return job.ErrNotFound
	}
	return nil
}

// DeleteJob removes the job first, then its runs and their alerts.
func (m *Mongo) DeleteJob(ctx context.Context, id string) error {
	res, err := m.jobs.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("deleting spark job: %w", err)
	}
	if res.DeletedCount == 0 {
		return job.ErrNotFound
	}

	runs, err := m.ListRuns(ctx, id)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return nil
	}
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	if _, err := m.alerts.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}); err != nil {
		return fmt.Errorf("deleting run alerts: %w", err)
	}
	if _, err := m.runs.DeleteMany(ctx, bson.D{{Key: "job_id", Value: id}}); err != nil {
		return fmt.Errorf("deleting runs: %w", err)
	}
	return nil
}

func (m *Mongo) ListJobs(ctx context.Context) ([]*job.Job, error) {
	cur, err := m.jobs.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "identifier", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing spark jobs: %w", err)
	}
	var out []*job.Job
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding spark jobs: %w", err)
	}
	return out, nil
}

func (m *Mongo) CreateRun(ctx context.Context, r *job.Run) error {
	if _, err := m.runs.InsertOne(ctx, r); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

func (m *Mongo) UpdateRun(ctx context.Context, r *job.Run) error {
	set := bson.D{
		{Key: "status", Value: r.Status},
		{Key: "run_date", Value: r.RunDate},
		{Key: "terminated_date", Value: r.TerminatedDate},
		{Key: "modified_at", Value: r.ModifiedAt},
	}
	res, err := m.runs.UpdateOne(ctx, bson.D{{Key: "_id", Value: r.ID}}, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("run %s: %w", r.ID, job.ErrNotFound)
	}
	return nil
}

func (m *Mongo) LatestRun(ctx context.Context, jobID string) (*job.Run, error) {
	var r job.Run
	err := m.runs.FindOne(ctx,
		bson.D{{Key: "job_id", Value: jobID}},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest run: %w", err)
	}
	return &r, nil
}

func (m *Mongo) ListRuns(ctx context.Context, jobID string) ([]*job.Run, error) {
	return m.findRuns(ctx, bson.D{{Key: "job_id", Value: jobID}}, -1)
}

func (m *Mongo) ListRunsByStatus(ctx context.Context, statuses ...cluster.Status) ([]*job.Run, error) {
	filter := bson.D{}
	if len(statuses) > 0 {
		filter = bson.D{{Key: "status", Value: bson.D{{Key: "$in", Value: statuses}}}}
	}
	return m.findRuns(ctx, filter, 1)
}

func (m *Mongo) findRuns(ctx context.Context, filter bson.D, order int) ([]*job.Run, error) {
	cur, err := m.runs.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: order}}))
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	var out []*job.Run
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding runs: %w", err)
	}
	return out, nil
}

func (m *Mongo) CreateAlert(ctx context.Context, a *job.Alert) error {
	_, err := m.alerts.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: a.RunID}},
		a,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting run alert: %w", err)
	}
	return nil
}

func (m *Mongo) ListAlerts(ctx context.Context) ([]*job.Alert, error) {
	cur, err := m.alerts.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing run alerts: %w", err)
	}
	var out []*job.Alert
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding run alerts: %w", err)
	}
	return out, nil
}
