package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/atmo/atmo/internal/cluster"
	"github.com/atmo/atmo/internal/release"
)

const (
	clustersCollection = "clusters"
	releasesCollection = "emr_releases"
	jobsCollection     = "spark_jobs"
	runsCollection     = "spark_job_runs"
	alertsCollection   = "spark_job_run_alerts"
)

// Mongo implements Store on MongoDB.
type Mongo struct {
	client   *mongo.Client
	clusters *mongo.Collection
	releases *mongo.Collection
	jobs     *mongo.Collection
	runs     *mongo.Collection
	alerts   *mongo.Collection
}

// NewMongo connects to MongoDB and ensures the indexes exist.
func NewMongo(ctx context.Context, connectionString, database string) (*Mongo, error) {
	if database == "" {
		database = "atmo"
	}
	client, err := mongo.Connect(options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	db := client.Database(database)
	m := &Mongo{
		client:   client,
		clusters: db.Collection(clustersCollection),
		releases: db.Collection(releasesCollection),
		jobs:     db.Collection(jobsCollection),
		runs:     db.Collection(runsCollection),
		alerts:   db.Collection(alertsCollection),
	}
	if err := m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.clusters.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "most_recent_status", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("creating cluster status index: %w", err)
	}
	_, err = m.jobs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "identifier", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("creating spark job identifier index: %w", err)
	}
	_, err = m.runs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "job_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating run indexes: %w", err)
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *Mongo) CreateCluster(ctx context.Context, c *cluster.Cluster) error {
	if _, err := m.clusters.InsertOne(ctx, c); err != nil {
		return fmt.Errorf("inserting cluster: %w", err)
	}
	return nil
}

func (m *Mongo) GetCluster(ctx context.Context, id string) (*cluster.Cluster, error) {
	var c cluster.Cluster
	err := m.clusters.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, cluster.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding cluster %s: %w", id, err)
	}
	return &c, nil
}

// UpdateCluster writes the mutable fields. The job flow ID is only written
// while the stored one is still empty.
func (m *Mongo) UpdateCluster(ctx context.Context, c *cluster.Cluster) error {
	set := bson.D{
		{Key: "most_recent_status", Value: c.Status},
		{Key: "state_change_reason", Value: c.StateChangeReason},
		{Key: "state_change_message", Value: c.StateChangeMessage},
		{Key: "master_address", Value: c.MasterAddress},
		{Key: "launching", Value: c.Launching},
		{Key: "start_date", Value: c.StartDate},
		{Key: "end_date", Value: c.EndDate},
		{Key: "modified_at", Value: c.ModifiedAt},
	}
	res, err := m.clusters.UpdateOne(ctx, bson.D{{Key: "_id", Value: c.ID}}, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return fmt.Errorf("updating cluster: %w", err)
	}
	if res.MatchedCount == 0 {
		return cluster.ErrNotFound
	}

	if c.JobFlowID != "" {
		_, err = m.clusters.UpdateOne(ctx,
			bson.D{{Key: "_id", Value: c.ID}, {Key: "jobflow_id", Value: ""}},
			bson.D{{Key: "$set", Value: bson.D{{Key: "jobflow_id", Value: c.JobFlowID}}}})
		if err != nil {
			return fmt.Errorf("assigning job flow: %w", err)
		}
	}
	return nil
}

func (m *Mongo) UpdateClusterStatus(ctx context.Context, c *cluster.Cluster) error {
	set := bson.D{
		{Key: "most_recent_status", Value: c.Status},
		{Key: "state_change_reason", Value: c.StateChangeReason},
		{Key: "state_change_message", Value: c.StateChangeMessage},
		{Key: "modified_at", Value: c.ModifiedAt},
	}
	res, err := m.clusters.UpdateOne(ctx, bson.D{{Key: "_id", Value: c.ID}}, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return fmt.Errorf("updating cluster status: %w", err)
	}
	if res.MatchedCount == 0 {
		return cluster.ErrNotFound
	}
	return nil
}

func (m *Mongo) ListClusters(ctx context.Context, statuses ...cluster.Status) ([]*cluster.Cluster, error) {
	filter := bson.D{}
	if len(statuses) > 0 {
		filter = bson.D{{Key: "most_recent_status", Value: bson.D{{Key: "$in", Value: statuses}}}}
	}
	cur, err := m.clusters.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "start_date", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing clusters: %w", err)
	}
	var out []*cluster.Cluster
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding clusters: %w", err)
	}
	return out, nil
}

func (m *Mongo) ClaimLaunch(ctx context.Context, id string) (bool, error) {
	res, err := m.clusters.UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: id},
			{Key: "jobflow_id", Value: ""},
			{Key: "launching", Value: false},
		},
		bson.D{{Key: "$set", Value: bson.D{{Key: "launching", Value: true}}}})
	if err != nil {
		return false, fmt.Errorf("claiming launch: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

func (m *Mongo) ReleaseLaunch(ctx context.Context, id string) error {
	_, err := m.clusters.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "launching", Value: false}}}})
	if err != nil {
		return fmt.Errorf("releasing launch: %w", err)
	}
	return nil
}

func (m *Mongo) ListReleases(ctx context.Context) ([]release.Release, error) {
	cur, err := m.releases.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("listing releases: %w", err)
	}
	var out []release.Release
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding releases: %w", err)
	}
	return out, nil
}

func (m *Mongo) GetRelease(ctx context.Context, version string) (*release.Release, error) {
	var r release.Release
	err := m.releases.FindOne(ctx, bson.D{{Key: "_id", Value: version}}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, release.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding release %s: %w", version, err)
	}
	return &r, nil
}

func (m *Mongo) PutRelease(ctx context.Context, r release.Release) error {
	_, err := m.releases.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: r.Version}},
		r,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting release: %w", err)
	}
	return nil
}
