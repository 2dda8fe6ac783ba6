package aws

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the subset of the S3 client the notebook store calls.
type s3API interface {
	objectGetter
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Notebooks implements Notebooks on S3. Notebooks live in the code bucket
// under jobs/<identifier>/. Results are read from the public or private data
// bucket.
type S3Notebooks struct {
	client        s3API
	codeBucket    string
	publicBucket  string
	privateBucket string
}

// NewS3Notebooks creates a notebook store for the buckets in settings.
func NewS3Notebooks(ctx context.Context, profile string, settings EMRSettings) (*S3Notebooks, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	if settings.Region != "" {
		opts = append(opts, awsconfig.WithRegion(settings.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return newS3Notebooks(s3.NewFromConfig(cfg), settings), nil
}

func newS3Notebooks(client s3API, settings EMRSettings) *S3Notebooks {
	return &S3Notebooks{
		client:        client,
		codeBucket:    settings.CodeBucket,
		publicBucket:  settings.PublicDataBucket,
		privateBucket: settings.PrivateDataBucket,
	}
}

// NotebookKey returns where a job's notebook is stored in the code bucket.
func NotebookKey(identifier, filename string) string {
	return fmt.Sprintf("jobs/%s/%s", identifier, filename)
}

// Add uploads a notebook and returns its key.
func (n *S3Notebooks) Add(ctx context.Context, identifier, filename string, body []byte) (string, error) {
	key := NotebookKey(identifier, filename)
	_, err := n.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(n.codeBucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return "", fmt.Errorf("uploading notebook %s: %w", key, err)
	}
	return key, nil
}

// Get downloads a notebook.
func (n *S3Notebooks) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := n.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(n.codeBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("downloading notebook %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Remove deletes a notebook.
func (n *S3Notebooks) Remove(ctx context.Context, key string) error {
	_, err := n.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(n.codeBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("removing notebook %s: %w", key, err)
	}
	return nil
}

// Results lists the data and log objects written by a job's runs. Keys
// outside <identifier>/data/ and <identifier>/logs/ are ignored.
func (n *S3Notebooks) Results(ctx context.Context, identifier string, public bool) (*JobResults, error) {
	bucket := n.privateBucket
	if public {
		bucket = n.publicBucket
	}
	dataPrefix := identifier + "/data/"
	logsPrefix := identifier + "/logs/"

	paginator := s3.NewListObjectsV2Paginator(n.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(identifier + "/"),
	})
	results := &JobResults{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing results of %s: %w", identifier, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			switch {
			case strings.HasPrefix(key, dataPrefix):
				results.Data = append(results.Data, key)
			case strings.HasPrefix(key, logsPrefix):
				results.Logs = append(results.Logs, key)
			}
		}
	}
	return results, nil
}
