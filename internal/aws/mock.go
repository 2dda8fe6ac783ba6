package aws

import "context"

// MockClient is a test double for the Client interface.
type MockClient struct {
	Identity    *CallerIdentity
	IdentityErr error
	EMRAccess   bool
	EMRErr      error
	Buckets     map[string]bool
	BucketErr   error

	// Track calls
	CheckedBuckets []string
}

// NewMockClient creates a new MockClient with default values.
func NewMockClient() *MockClient {
	return &MockClient{
		Identity: &CallerIdentity{
			Account: "123456789012",
			ARN:     "arn:aws:iam::123456789012:user/test",
			UserID:  "AIDA12345",
		},
		Buckets: make(map[string]bool),
	}
}

func (m *MockClient) VerifyCredentials(_ context.Context) (*CallerIdentity, error) {
	return m.Identity, m.IdentityErr
}

func (m *MockClient) CheckEMRAccess(_ context.Context) (bool, error) {
	return m.EMRAccess, m.EMRErr
}

func (m *MockClient) CheckBucket(_ context.Context, bucket string) (bool, error) {
	m.CheckedBuckets = append(m.CheckedBuckets, bucket)
	if m.BucketErr != nil {
		return false, m.BucketErr
	}
	return m.Buckets[bucket], nil
}
