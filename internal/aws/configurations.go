package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/emr/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Configuration is one EMR application configuration, e.g. spark-defaults.
// The JSON form is the one EMR documents, so an existing configuration file
// can be used as is.
type Configuration struct {
	Classification string            `json:"Classification" yaml:"classification"`
	Properties     map[string]string `json:"Properties,omitempty" yaml:"properties,omitempty"`
	Configurations []Configuration   `json:"Configurations,omitempty" yaml:"configurations,omitempty"`
}

type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// LoadConfigurations reads a JSON list of configurations from S3.
func LoadConfigurations(ctx context.Context, client objectGetter, bucket, key string) ([]Configuration, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching EMR configuration s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading EMR configuration: %w", err)
	}
	var configs []Configuration
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("parsing EMR configuration s3://%s/%s: %w", bucket, key, err)
	}
	return configs, nil
}

func emrConfigurations(configs []Configuration) []types.Configuration {
	if len(configs) == 0 {
		return nil
	}
	out := make([]types.Configuration, len(configs))
	for i, c := range configs {
		out[i] = types.Configuration{
			Classification: aws.String(c.Classification),
			Properties:     c.Properties,
			Configurations: emrConfigurations(c.Configurations),
		}
	}
	return out
}
