package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	"github.com/aws/aws-sdk-go-v2/service/emr/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// emrAPI is the subset of the EMR client the provisioner calls.
type emrAPI interface {
	RunJobFlow(ctx context.Context, params *emr.RunJobFlowInput, optFns ...func(*emr.Options)) (*emr.RunJobFlowOutput, error)
	TerminateJobFlows(ctx context.Context, params *emr.TerminateJobFlowsInput, optFns ...func(*emr.Options)) (*emr.TerminateJobFlowsOutput, error)
	DescribeCluster(ctx context.Context, params *emr.DescribeClusterInput, optFns ...func(*emr.Options)) (*emr.DescribeClusterOutput, error)
	ListClusters(ctx context.Context, params *emr.ListClustersInput, optFns ...func(*emr.Options)) (*emr.ListClustersOutput, error)
}

// EMRSettings carries the account-level knobs used for every job flow.
type EMRSettings struct {
	Region             string
	EC2KeyName         string
	MasterInstanceType string
	WorkerInstanceType string
	InstanceProfile    string
	ServiceRole        string
	LogBucket          string
	SparkEMRBucket     string
	InstanceAppTag     string
	AccountingAppTag   string
	AccountingTypeTag  string
	UseSpotInstances   bool
	SpotBidCore        float64
	EFSDNS             string

	// Buckets used by scheduled Spark jobs.
	CodeBucket        string
	PublicDataBucket  string
	PrivateDataBucket string

	// Configurations is sent with every job flow. When empty and
	// ConfigurationsKey is set, it is read from that key in SparkEMRBucket.
	Configurations    []Configuration
	ConfigurationsKey string
}

// EMRProvisioner implements Provisioner and JobRunner for Amazon EMR.
type EMRProvisioner struct {
	client   emrAPI
	settings EMRSettings
	now      func() time.Time
}

// NewEMRProvisioner creates a new EMR provisioner.
func NewEMRProvisioner(ctx context.Context, profile string, settings EMRSettings) (*EMRProvisioner, error) {
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
	if settings.Region == "" {
		settings.Region = cfg.Region
	}
	if len(settings.Configurations) == 0 && settings.ConfigurationsKey != "" {
		configs, err := LoadConfigurations(ctx, s3.NewFromConfig(cfg), settings.SparkEMRBucket, settings.ConfigurationsKey)
		if err != nil {
			return nil, err
		}
		settings.Configurations = configs
	}

	return newEMRProvisioner(emr.NewFromConfig(cfg), settings), nil
}

func newEMRProvisioner(client emrAPI, settings EMRSettings) *EMRProvisioner {
	return &EMRProvisioner{
		client:   client,
		settings: settings,
		now:      time.Now,
	}
}

func (p *EMRProvisioner) scriptURI() string {
	return fmt.Sprintf("s3://%s/bootstrap/telemetry.sh", p.settings.SparkEMRBucket)
}

func (p *EMRProvisioner) zeppelinURI() string {
	return fmt.Sprintf("s3://%s/steps/zeppelin/zeppelin.sh", p.settings.SparkEMRBucket)
}

func (p *EMRProvisioner) batchURI() string {
	return fmt.Sprintf("s3://%s/steps/batch.sh", p.settings.SparkEMRBucket)
}

func (p *EMRProvisioner) jarURI() string {
	return fmt.Sprintf("s3://%s.elasticmapreduce/libs/script-runner/script-runner.jar", p.settings.Region)
}

// jobFlowParams builds the RunJobFlow input for an interactive cluster.
func (p *EMRProvisioner) jobFlowParams(req StartRequest) *emr.RunJobFlowInput {
	params := p.baseParams(req.OwnerEmail, req.Identifier, req.Release, req.Size, "clusters")
	params.Applications = append(params.Applications, types.Application{Name: aws.String("Zeppelin")})
	params.Instances.KeepJobFlowAliveWhenNoSteps = aws.Bool(true)
	params.BootstrapActions = []types.BootstrapActionConfig{
		{
			Name: aws.String("setup-telemetry-cluster"),
			ScriptBootstrapAction: &types.ScriptBootstrapActionConfig{
				Path: aws.String(p.scriptURI()),
				Args: []string{
					"--public-key", req.PublicKey,
					"--email", req.OwnerEmail,
					"--efs-dns", p.settings.EFSDNS,
				},
			},
		},
	}
	params.Steps = []types.StepConfig{
		{
			Name:            aws.String("setup-zeppelin"),
			ActionOnFailure: types.ActionOnFailureTerminateJobFlow,
			HadoopJarStep: &types.HadoopJarStepConfig{
				Jar:  aws.String(p.jarURI()),
				Args: []string{p.zeppelinURI()},
			},
		},
	}
	return params
}

// runParams builds the RunJobFlow input for a scheduled Spark job. The job
// flow shuts itself down after the notebook step.
func (p *EMRProvisioner) runParams(req RunRequest) *emr.RunJobFlowInput {
	s := p.settings
	dataBucket := s.PrivateDataBucket
	if req.Public {
		dataBucket = s.PublicDataBucket
	}
	minutes := int(req.Timeout / time.Minute)

	params := p.baseParams(req.OwnerEmail, req.Identifier, req.Release, req.Size, "jobs")
	params.Instances.KeepJobFlowAliveWhenNoSteps = aws.Bool(false)
	params.BootstrapActions = []types.BootstrapActionConfig{
		{
			Name: aws.String("setup-telemetry-spark-job"),
			ScriptBootstrapAction: &types.ScriptBootstrapActionConfig{
				Path: aws.String(p.scriptURI()),
				Args: []string{"--timeout", strconv.Itoa(minutes)},
			},
		},
	}
	params.Steps = []types.StepConfig{
		{
			Name:            aws.String("RunNotebookStep"),
			ActionOnFailure: types.ActionOnFailureTerminateJobFlow,
			HadoopJarStep: &types.HadoopJarStepConfig{
				Jar: aws.String(p.jarURI()),
				Args: []string{
					p.batchURI(),
					"--job-name", req.Identifier,
					"--notebook", fmt.Sprintf("s3://%s/%s", s.CodeBucket, req.NotebookKey),
					"--data-bucket", dataBucket,
				},
			},
		},
	}
	return params
}

// baseParams holds what clusters and scheduled jobs have in common.
func (p *EMRProvisioner) baseParams(owner, identifier, release string, size int, logDir string) *emr.RunJobFlowInput {
	now := p.now().UTC().Format(time.RFC3339)
	s := p.settings

	// A single-node cluster runs everything on the master.
	groups := []types.InstanceGroupConfig{
		{
			Name:          aws.String("Master"),
			InstanceRole:  types.InstanceRoleTypeMaster,
			InstanceType:  aws.String(s.MasterInstanceType),
			InstanceCount: aws.Int32(1),
			Market:        types.MarketTypeOnDemand,
		},
	}
	if size == 1 {
		groups[0].InstanceType = aws.String(s.WorkerInstanceType)
	} else {
		core := types.InstanceGroupConfig{
			Name:          aws.String("Worker Instances"),
			InstanceRole:  types.InstanceRoleTypeCore,
			InstanceType:  aws.String(s.WorkerInstanceType),
			InstanceCount: aws.Int32(int32(size)),
			Market:        types.MarketTypeOnDemand,
		}
		if s.UseSpotInstances {
			core.Market = types.MarketTypeSpot
			core.BidPrice = aws.String(strconv.FormatFloat(s.SpotBidCore, 'f', -1, 64))
		}
		groups = append(groups, core)
	}

	return &emr.RunJobFlowInput{
		Name:         aws.String(uuid.NewString()),
		LogUri:       aws.String(fmt.Sprintf("s3://%s/%s/%s/%s", s.LogBucket, logDir, identifier, now)),
		ReleaseLabel: aws.String("emr-" + release),
		Applications: []types.Application{
			{Name: aws.String("Spark")},
			{Name: aws.String("Hive")},
		},
		Configurations: emrConfigurations(s.Configurations),
		Instances: &types.JobFlowInstancesConfig{
			Ec2KeyName:     aws.String(s.EC2KeyName),
			InstanceGroups: groups,
		},
		JobFlowRole: aws.String(s.InstanceProfile),
		ServiceRole: aws.String(s.ServiceRole),
		Tags: []types.Tag{
			{Key: aws.String("Owner"), Value: aws.String(owner)},
			{Key: aws.String("Name"), Value: aws.String(identifier)},
			{Key: aws.String("Application"), Value: aws.String(s.InstanceAppTag)},
			{Key: aws.String("App"), Value: aws.String(s.AccountingAppTag)},
			{Key: aws.String("Type"), Value: aws.String(s.AccountingTypeTag)},
		},
		VisibleToAllUsers: aws.Bool(true),
	}
}

// Start creates an EMR cluster and returns its job flow ID.
func (p *EMRProvisioner) Start(ctx context.Context, req StartRequest) (string, error) {
	out, err := p.client.RunJobFlow(ctx, p.jobFlowParams(req))
	if err != nil {
		return "", fmt.Errorf("creating EMR cluster: %w", err)
	}
	return aws.ToString(out.JobFlowId), nil
}

// Run starts a job flow for one scheduled Spark job run and returns its job
// flow ID.
func (p *EMRProvisioner) Run(ctx context.Context, req RunRequest) (string, error) {
	out, err := p.client.RunJobFlow(ctx, p.runParams(req))
	if err != nil {
		return "", fmt.Errorf("creating EMR job flow for %s: %w", req.Identifier, err)
	}
	return aws.ToString(out.JobFlowId), nil
}

// Stop terminates an EMR cluster.
func (p *EMRProvisioner) Stop(ctx context.Context, jobFlowID string) error {
	_, err := p.client.TerminateJobFlows(ctx, &emr.TerminateJobFlowsInput{
		JobFlowIds: []string{jobFlowID},
	})
	if err != nil {
		return fmt.Errorf("terminating EMR cluster: %w", err)
	}
	return nil
}

// Info returns the current state of an EMR cluster.
func (p *EMRProvisioner) Info(ctx context.Context, jobFlowID string) (*ClusterInfo, error) {
	out, err := p.client.DescribeCluster(ctx, &emr.DescribeClusterInput{
		ClusterId: aws.String(jobFlowID),
	})
	if err != nil {
		return nil, fmt.Errorf("describing EMR cluster: %w", err)
	}
	if out.Cluster == nil {
		return nil, fmt.Errorf("describing EMR cluster %s: empty response", jobFlowID)
	}

	info := &ClusterInfo{PublicDNS: out.Cluster.MasterPublicDnsName}
	info.State, info.StartTime, info.StateChangeReasonCode, info.StateChangeReasonMessage = statusFields(out.Cluster.Status)
	return info, nil
}

// List returns every cluster created after the given time, following
// pagination markers until the listing is exhausted.
func (p *EMRProvisioner) List(ctx context.Context, createdAfter time.Time) ([]ClusterSummary, error) {
	paginator := emr.NewListClustersPaginator(p.client, &emr.ListClustersInput{
		CreatedAfter: aws.Time(createdAfter),
	})

	var clusters []ClusterSummary
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing EMR clusters: %w", err)
		}
		for _, c := range page.Clusters {
			s := ClusterSummary{JobFlowID: aws.ToString(c.Id)}
			s.State, s.StartTime, s.StateChangeReasonCode, s.StateChangeReasonMessage = statusFields(c.Status)
			clusters = append(clusters, s)
		}
	}
	return clusters, nil
}

func statusFields(status *types.ClusterStatus) (state string, start time.Time, code, message string) {
	if status == nil {
		return "", time.Time{}, "", ""
	}
	state = string(status.State)
	if status.StateChangeReason != nil {
		code = string(status.StateChangeReason.Code)
		message = aws.ToString(status.StateChangeReason.Message)
	}
	if status.Timeline != nil {
		start = aws.ToTime(status.Timeline.CreationDateTime)
	}
	return state, start, code, message
}
