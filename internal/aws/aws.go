package aws

import "context"

// Client defines the account-level AWS checks run before provisioning.
type Client interface {
	VerifyCredentials(ctx context.Context) (*CallerIdentity, error)
	CheckEMRAccess(ctx context.Context) (bool, error)
	CheckBucket(ctx context.Context, bucket string) (bool, error)
}

// CallerIdentity holds AWS STS caller identity information.
type CallerIdentity struct {
	Account string
	ARN     string
	UserID  string
}

// Preflight describes whether the account is ready to launch clusters.
type Preflight struct {
	Identity        *CallerIdentity
	EMRAvailable    bool
	LogBucketExists bool
	Problems        []string
}

// Ready reports whether no problems were found.
func (p *Preflight) Ready() bool {
	return len(p.Problems) == 0
}

// RunPreflight verifies credentials, EMR permissions and the log bucket.
func RunPreflight(ctx context.Context, client Client, logBucket string) (*Preflight, error) {
	identity, err := client.VerifyCredentials(ctx)
	if err != nil {
		return nil, err
	}
	result := &Preflight{Identity: identity}

	emrOK, err := client.CheckEMRAccess(ctx)
	if err != nil {
		result.Problems = append(result.Problems, "EMR access check failed: "+err.Error())
	} else if !emrOK {
		result.Problems = append(result.Problems, "EMR is not accessible. Check IAM permissions for elasticmapreduce:RunJobFlow.")
	}
	result.EMRAvailable = emrOK

	if logBucket == "" {
		result.Problems = append(result.Problems, "No log bucket configured (aws.log_bucket).")
		return result, nil
	}
	exists, err := client.CheckBucket(ctx, logBucket)
	if err != nil {
		result.Problems = append(result.Problems, "Log bucket check failed: "+err.Error())
	} else if !exists {
		result.Problems = append(result.Problems, "Log bucket "+logBucket+" does not exist or is not reachable.")
	}
	result.LogBucketExists = exists

	return result, nil
}
