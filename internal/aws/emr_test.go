package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	"github.com/aws/aws-sdk-go-v2/service/emr/types"
)

type fakeEMR struct {
	runInput    *emr.RunJobFlowInput
	runErr      error
	terminated  []string
	describeID  string
	describeOut *emr.DescribeClusterOutput
	listInputs  []*emr.ListClustersInput
	listPages   []*emr.ListClustersOutput
	listErr     error
}

func (f *fakeEMR) RunJobFlow(_ context.Context, in *emr.RunJobFlowInput, _ ...func(*emr.Options)) (*emr.RunJobFlowOutput, error) {
	f.runInput = in
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &emr.RunJobFlowOutput{JobFlowId: aws.String("12345")}, nil
}

func (f *fakeEMR) TerminateJobFlows(_ context.Context, in *emr.TerminateJobFlowsInput, _ ...func(*emr.Options)) (*emr.TerminateJobFlowsOutput, error) {
	f.terminated = append(f.terminated, in.JobFlowIds...)
	return &emr.TerminateJobFlowsOutput{}, nil
}

func (f *fakeEMR) DescribeCluster(_ context.Context, in *emr.DescribeClusterInput, _ ...func(*emr.Options)) (*emr.DescribeClusterOutput, error) {
	f.describeID = aws.ToString(in.ClusterId)
	return f.describeOut, nil
}

func (f *fakeEMR) ListClusters(_ context.Context, in *emr.ListClustersInput, _ ...func(*emr.Options)) (*emr.ListClustersOutput, error) {
	f.listInputs = append(f.listInputs, in)
	if f.listErr != nil {
		return nil, f.listErr
	}
	page := f.listPages[0]
	f.listPages = f.listPages[1:]
	return page, nil
}

func testSettings() EMRSettings {
	return EMRSettings{
		Region:             "us-west-2",
		EC2KeyName:         "dataops-dev",
		MasterInstanceType: "c3.4xlarge",
		WorkerInstanceType: "c3.4xlarge",
		InstanceProfile:    "telemetry-spark-profile",
		ServiceRole:        "EMR_DefaultRole",
		LogBucket:          "log-bucket",
		SparkEMRBucket:     "spark-emr",
		InstanceAppTag:     "telemetry-analysis-worker-instance",
		AccountingAppTag:   "telemetry-analysis",
		AccountingTypeTag:  "worker",
		SpotBidCore:        0.84,
		EFSDNS:             "fs-1234.efs.us-west-2.amazonaws.com",
		CodeBucket:         "telemetry-analysis-code-2",
		PublicDataBucket:   "telemetry-public-analysis-2",
		PrivateDataBucket:  "telemetry-private-analysis-2",
	}
}

func newTestProvisioner(f *fakeEMR, settings EMRSettings) *EMRProvisioner {
	p := newEMRProvisioner(f, settings)
	p.now = func() time.Time { return time.Date(2016, 4, 5, 13, 25, 47, 0, time.UTC) }
	return p
}

func TestJobFlowParams(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		spot    bool
		groups  int
		coreMkt types.MarketType
		coreBid string
	}{
		{"single node", 1, true, 1, "", ""},
		{"on demand workers", 10, false, 2, types.MarketTypeOnDemand, ""},
		{"spot workers", 10, true, 2, types.MarketTypeSpot, "0.84"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings()
			settings.UseSpotInstances = tt.spot
			p := newTestProvisioner(&fakeEMR{}, settings)

			params := p.jobFlowParams(StartRequest{
				OwnerEmail: "foo@bar.com",
				Identifier: "test-flow",
				Release:    "1.0",
				Size:       tt.size,
				PublicKey:  "ssh-rsa AAAA",
			})

			if got := aws.ToString(params.ReleaseLabel); got != "emr-1.0" {
				t.Errorf("ReleaseLabel = %q, want %q", got, "emr-1.0")
			}
			wantLog := "s3://log-bucket/clusters/test-flow/2016-04-05T13:25:47Z"
			if got := aws.ToString(params.LogUri); got != wantLog {
				t.Errorf("LogUri = %q, want %q", got, wantLog)
			}
			if got := aws.ToString(params.Instances.Ec2KeyName); got != "dataops-dev" {
				t.Errorf("Ec2KeyName = %q", got)
			}
			if !aws.ToBool(params.Instances.KeepJobFlowAliveWhenNoSteps) {
				t.Error("KeepJobFlowAliveWhenNoSteps should be true")
			}

			tags := map[string]string{}
			for _, tag := range params.Tags {
				tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
			}
			wantTags := map[string]string{
				"Owner":       "foo@bar.com",
				"Name":        "test-flow",
				"Application": "telemetry-analysis-worker-instance",
				"App":         "telemetry-analysis",
				"Type":        "worker",
			}
			for k, v := range wantTags {
				if tags[k] != v {
					t.Errorf("tag %s = %q, want %q", k, tags[k], v)
				}
			}

			groups := params.Instances.InstanceGroups
			if len(groups) != tt.groups {
				t.Fatalf("len(InstanceGroups) = %d, want %d", len(groups), tt.groups)
			}
			if groups[0].InstanceRole != types.InstanceRoleTypeMaster {
				t.Errorf("first group role = %s, want MASTER", groups[0].InstanceRole)
			}
			if aws.ToInt32(groups[0].InstanceCount) != 1 {
				t.Errorf("master count = %d, want 1", aws.ToInt32(groups[0].InstanceCount))
			}
			if tt.groups > 1 {
				core := groups[1]
				if core.InstanceRole != types.InstanceRoleTypeCore {
					t.Errorf("second group role = %s, want CORE", core.InstanceRole)
				}
				if aws.ToInt32(core.InstanceCount) != int32(tt.size) {
					t.Errorf("core count = %d, want %d", aws.ToInt32(core.InstanceCount), tt.size)
				}
				if core.Market != tt.coreMkt {
					t.Errorf("core market = %s, want %s", core.Market, tt.coreMkt)
				}
				if got := aws.ToString(core.BidPrice); got != tt.coreBid {
					t.Errorf("core bid = %q, want %q", got, tt.coreBid)
				}
			}
		})
	}
}

func TestJobFlowParamsBootstrapAction(t *testing.T) {
	p := newTestProvisioner(&fakeEMR{}, testSettings())
	params := p.jobFlowParams(StartRequest{
		OwnerEmail: "foo@bar.com",
		Identifier: "test-flow",
		Release:    "5.0.0",
		Size:       1,
		PublicKey:  "ssh-rsa AAAA",
	})

	if len(params.BootstrapActions) != 1 {
		t.Fatalf("len(BootstrapActions) = %d, want 1", len(params.BootstrapActions))
	}
	action := params.BootstrapActions[0].ScriptBootstrapAction
	if got := aws.ToString(action.Path); got != "s3://spark-emr/bootstrap/telemetry.sh" {
		t.Errorf("bootstrap path = %q", got)
	}
	want := []string{"--public-key", "ssh-rsa AAAA", "--email", "foo@bar.com", "--efs-dns", "fs-1234.efs.us-west-2.amazonaws.com"}
	if len(action.Args) != len(want) {
		t.Fatalf("bootstrap args = %v, want %v", action.Args, want)
	}
	for i := range want {
		if action.Args[i] != want[i] {
			t.Errorf("bootstrap arg %d = %q, want %q", i, action.Args[i], want[i])
		}
	}

	if len(params.Steps) != 1 || params.Steps[0].ActionOnFailure != types.ActionOnFailureTerminateJobFlow {
		t.Errorf("expected a single setup-zeppelin step that terminates on failure, got %+v", params.Steps)
	}
	if got := aws.ToString(params.Steps[0].HadoopJarStep.Jar); got != "s3://us-west-2.elasticmapreduce/libs/script-runner/script-runner.jar" {
		t.Errorf("step jar = %q", got)
	}
}

func TestEMRProvisioner_Start(t *testing.T) {
	f := &fakeEMR{}
	p := newTestProvisioner(f, testSettings())

	id, err := p.Start(context.Background(), StartRequest{Identifier: "c", Release: "5.3.0", Size: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "12345" {
		t.Errorf("job flow ID = %q, want %q", id, "12345")
	}
	if f.runInput == nil {
		t.Fatal("RunJobFlow was not called")
	}
}

func TestEMRProvisioner_StartError(t *testing.T) {
	f := &fakeEMR{runErr: errors.New("throttled")}
	p := newTestProvisioner(f, testSettings())

	if _, err := p.Start(context.Background(), StartRequest{Size: 1}); err == nil {
		t.Fatal("expected error")
	}
}

func TestEMRProvisioner_Stop(t *testing.T) {
	f := &fakeEMR{}
	p := newTestProvisioner(f, testSettings())

	if err := p.Stop(context.Background(), "12345"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.terminated) != 1 || f.terminated[0] != "12345" {
		t.Errorf("terminated = %v, want [12345]", f.terminated)
	}
}

func TestEMRProvisioner_Info(t *testing.T) {
	created := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &fakeEMR{
		describeOut: &emr.DescribeClusterOutput{
			Cluster: &types.Cluster{
				MasterPublicDnsName: aws.String("1.2.3.4"),
				Status: &types.ClusterStatus{
					State: types.ClusterStateRunning,
					StateChangeReason: &types.ClusterStateChangeReason{
						Code:    types.ClusterStateChangeReasonCodeAllStepsCompleted,
						Message: aws.String("All steps completed."),
					},
					Timeline: &types.ClusterTimeline{CreationDateTime: aws.Time(created)},
				},
			},
		},
	}
	p := newTestProvisioner(f, testSettings())

	info, err := p.Info(context.Background(), "foo-bar-spam-egs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.describeID != "foo-bar-spam-egs" {
		t.Errorf("ClusterId = %q", f.describeID)
	}
	if info.State != "RUNNING" {
		t.Errorf("State = %q, want RUNNING", info.State)
	}
	if info.PublicDNS == nil || *info.PublicDNS != "1.2.3.4" {
		t.Errorf("PublicDNS = %v, want 1.2.3.4", info.PublicDNS)
	}
	if !info.StartTime.Equal(created) {
		t.Errorf("StartTime = %v, want %v", info.StartTime, created)
	}
	if info.StateChangeReasonCode != "ALL_STEPS_COMPLETED" {
		t.Errorf("StateChangeReasonCode = %q", info.StateChangeReasonCode)
	}
	if info.StateChangeReasonMessage != "All steps completed." {
		t.Errorf("StateChangeReasonMessage = %q", info.StateChangeReasonMessage)
	}
}

func TestEMRProvisioner_InfoWithoutDNS(t *testing.T) {
	f := &fakeEMR{
		describeOut: &emr.DescribeClusterOutput{
			Cluster: &types.Cluster{
				Status: &types.ClusterStatus{State: types.ClusterStateBootstrapping},
			},
		},
	}
	p := newTestProvisioner(f, testSettings())

	info, err := p.Info(context.Background(), "12345")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.PublicDNS != nil {
		t.Errorf("PublicDNS = %q, want nil", *info.PublicDNS)
	}
	if info.State != "BOOTSTRAPPING" {
		t.Errorf("State = %q, want BOOTSTRAPPING", info.State)
	}
}

func TestEMRProvisioner_ListPagination(t *testing.T) {
	today := time.Date(2017, 2, 3, 0, 0, 0, 0, time.UTC)
	page := func(marker *string) *emr.ListClustersOutput {
		return &emr.ListClustersOutput{
			Clusters: []types.ClusterSummary{
				{
					Id: aws.String("j-AB1234567890"),
					Status: &types.ClusterStatus{
						State: types.ClusterStateWaiting,
						StateChangeReason: &types.ClusterStateChangeReason{
							Code:    types.ClusterStateChangeReasonCodeAllStepsCompleted,
							Message: aws.String("All steps completed."),
						},
						Timeline: &types.ClusterTimeline{CreationDateTime: aws.Time(today)},
					},
				},
			},
			Marker: marker,
		}
	}
	f := &fakeEMR{listPages: []*emr.ListClustersOutput{page(aws.String("some-marker")), page(nil)}}
	p := newTestProvisioner(f, testSettings())

	clusters, err := p.List(context.Background(), today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.listInputs) != 2 {
		t.Fatalf("ListClusters calls = %d, want 2", len(f.listInputs))
	}
	if got := aws.ToTime(f.listInputs[0].CreatedAfter); !got.Equal(today) {
		t.Errorf("CreatedAfter = %v, want %v", got, today)
	}
	if got := aws.ToString(f.listInputs[1].Marker); got != "some-marker" {
		t.Errorf("second call Marker = %q, want some-marker", got)
	}
	if len(clusters) != 2 {
		t.Fatalf("len(clusters) = %d, want 2", len(clusters))
	}
	want := ClusterSummary{
		JobFlowID:                "j-AB1234567890",
		State:                    "WAITING",
		StartTime:                today,
		StateChangeReasonCode:    "ALL_STEPS_COMPLETED",
		StateChangeReasonMessage: "All steps completed.",
	}
	for i, c := range clusters {
		if c != want {
			t.Errorf("clusters[%d] = %+v, want %+v", i, c, want)
		}
	}
}

func TestEMRProvisioner_ListError(t *testing.T) {
	f := &fakeEMR{listErr: errors.New("access denied")}
	p := newTestProvisioner(f, testSettings())

	if _, err := p.List(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error")
	}
}

func TestMockProvisioner_TracksCalls(t *testing.T) {
	mock := &MockProvisioner{StartResult: "j-ABC123"}

	id, err := mock.Start(context.Background(), StartRequest{Identifier: "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "j-ABC123" || mock.StartCalls != 1 {
		t.Errorf("Start = %q after %d calls", id, mock.StartCalls)
	}
	if err := mock.Stop(context.Background(), "j-ABC123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.StopCalls != 1 || mock.StoppedIDs[0] != "j-ABC123" {
		t.Errorf("StoppedIDs = %v", mock.StoppedIDs)
	}
}

func TestRunParams(t *testing.T) {
	tests := []struct {
		name       string
		public     bool
		dataBucket string
	}{
		{"public results", true, "telemetry-public-analysis-2"},
		{"private results", false, "telemetry-private-analysis-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvisioner(&fakeEMR{}, testSettings())
			params := p.runParams(RunRequest{
				OwnerEmail:  "foo@bar.com",
				Identifier:  "test-flow",
				Release:     "1.0",
				Size:        1,
				NotebookKey: "notebook.ipynb",
				Public:      tt.public,
				Timeout:     60 * time.Hour,
			})

			if aws.ToBool(params.Instances.KeepJobFlowAliveWhenNoSteps) {
				t.Error("KeepJobFlowAliveWhenNoSteps should be false")
			}
			wantLog := "s3://log-bucket/jobs/test-flow/2016-04-05T13:25:47Z"
			if got := aws.ToString(params.LogUri); got != wantLog {
				t.Errorf("LogUri = %q, want %q", got, wantLog)
			}
			if len(params.Applications) != 2 {
				t.Errorf("Applications = %d, want Spark and Hive only", len(params.Applications))
			}
			if len(params.Instances.InstanceGroups) != 1 {
				t.Fatalf("len(InstanceGroups) = %d, want 1", len(params.Instances.InstanceGroups))
			}

			action := params.BootstrapActions[0]
			if got := aws.ToString(action.Name); got != "setup-telemetry-spark-job" {
				t.Errorf("bootstrap name = %q", got)
			}
			if args := action.ScriptBootstrapAction.Args; len(args) != 2 || args[0] != "--timeout" || args[1] != "3600" {
				t.Errorf("bootstrap args = %v, want [--timeout 3600]", args)
			}

			if len(params.Steps) != 1 {
				t.Fatalf("len(Steps) = %d, want 1", len(params.Steps))
			}
			step := params.Steps[0]
			if aws.ToString(step.Name) != "RunNotebookStep" || step.ActionOnFailure != types.ActionOnFailureTerminateJobFlow {
				t.Errorf("step = %s on failure %s", aws.ToString(step.Name), step.ActionOnFailure)
			}
			want := []string{
				"s3://spark-emr/steps/batch.sh",
				"--job-name", "test-flow",
				"--notebook", "s3://telemetry-analysis-code-2/notebook.ipynb",
				"--data-bucket", tt.dataBucket,
			}
			args := step.HadoopJarStep.Args
			if len(args) != len(want) {
				t.Fatalf("step args = %v, want %v", args, want)
			}
			for i := range want {
				if args[i] != want[i] {
					t.Errorf("step arg %d = %q, want %q", i, args[i], want[i])
				}
			}
		})
	}
}

func TestJobFlowParamsConfigurations(t *testing.T) {
	settings := testSettings()
	settings.Configurations = []Configuration{
		{
			Classification: "spark",
			Properties:     map[string]string{"maximizeResourceAllocation": "true"},
		},
		{
			Classification: "hadoop-env",
			Configurations: []Configuration{
				{Classification: "export", Properties: map[string]string{"PYSPARK_PYTHON": "/usr/bin/python3"}},
			},
		},
	}
	p := newTestProvisioner(&fakeEMR{}, settings)

	for name, params := range map[string]*emr.RunJobFlowInput{
		"cluster": p.jobFlowParams(StartRequest{Identifier: "c", Release: "5.3.0", Size: 1}),
		"job":     p.runParams(RunRequest{Identifier: "j", Release: "5.3.0", Size: 1}),
	} {
		got := params.Configurations
		if len(got) != 2 {
			t.Fatalf("%s: len(Configurations) = %d, want 2", name, len(got))
		}
		if aws.ToString(got[0].Classification) != "spark" || got[0].Properties["maximizeResourceAllocation"] != "true" {
			t.Errorf("%s: first configuration = %+v", name, got[0])
		}
		nested := got[1].Configurations
		if len(nested) != 1 || nested[0].Properties["PYSPARK_PYTHON"] != "/usr/bin/python3" {
			t.Errorf("%s: nested configurations = %+v", name, nested)
		}
	}
}

func TestJobFlowParamsWithoutConfigurations(t *testing.T) {
	p := newTestProvisioner(&fakeEMR{}, testSettings())
	params := p.jobFlowParams(StartRequest{Identifier: "c", Release: "5.3.0", Size: 1})
	if params.Configurations != nil {
		t.Errorf("Configurations = %+v, want nil", params.Configurations)
	}
}

func TestEMRProvisioner_Run(t *testing.T) {
	f := &fakeEMR{}
	p := newTestProvisioner(f, testSettings())

	id, err := p.Run(context.Background(), RunRequest{Identifier: "j", Release: "5.3.0", Size: 2, Timeout: time.Hour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "12345" {
		t.Errorf("job flow ID = %q, want %q", id, "12345")
	}
	if f.runInput == nil || aws.ToBool(f.runInput.Instances.KeepJobFlowAliveWhenNoSteps) {
		t.Error("expected a job flow that terminates after its steps")
	}
}
