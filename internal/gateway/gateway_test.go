package gateway

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/task"
)

func TestAnalysisValidate(t *testing.T) {
	if err := (Analysis{Action: "search", Arg: "go"}).Validate(); err != nil {
		t.Fatalf("search should be valid: %v", err)
	}
	if err := (Analysis{}).Validate(); xerrors.CodeOf(err) != CodeInvalidAnalysis {
		t.Fatalf("expected invalid analysis for empty action, got %v", err)
	}
	if err := (Analysis{Action: "dance"}).Validate(); xerrors.CodeOf(err) != CodeInvalidAnalysis {
		t.Fatalf("expected invalid analysis for unknown action, got %v", err)
	}
	if xerrors.FatalError(Analysis{}.Validate()) {
		t.Fatalf("invalid analysis must be recoverable")
	}
}

func TestEchoIsDeterministic(t *testing.T) {
	ctx := context.Background()
	echo := NewEcho(
		WithInitialTasks("a", "b"),
		WithFollowUps("a", "a1"),
		WithAnalysis("b", Analysis{Action: ActionCode, Arg: "b"}),
	)

	tasks, err := echo.Start(ctx, StartRequest{Goal: "g"})
	if err != nil || len(tasks) != 2 || tasks[0] != "a" {
		t.Fatalf("unexpected start: %v %v", tasks, err)
	}
	analysis, _ := echo.Analyze(ctx, AnalyzeRequest{Task: task.Task{Value: "b"}})
	if analysis.Action != ActionCode {
		t.Fatalf("unexpected analysis: %+v", analysis)
	}
	out, _ := echo.Execute(ctx, ExecuteRequest{Task: task.Task{Value: "a"}, Analysis: DefaultAnalysis(&task.Task{Value: "a"})})
	if out != "reason: a" {
		t.Fatalf("unexpected execute result: %q", out)
	}
	follow, _ := echo.Create(ctx, CreateRequest{Task: task.Task{Value: "a"}})
	if len(follow) != 1 || follow[0] != "a1" {
		t.Fatalf("unexpected follow ups: %v", follow)
	}
	if got := echo.Executed(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("unexpected executed log: %v", got)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := echo.Execute(cancelled, ExecuteRequest{}); !stdErrors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

type blockingGateway struct{ Echo }

func (*blockingGateway) Execute(ctx context.Context, _ ExecuteRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestWithTimeoutReportsTimeout(t *testing.T) {
	gw := WithTimeout(&blockingGateway{}, 20*time.Millisecond)
	_, err := gw.Execute(context.Background(), ExecuteRequest{})
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout code, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = WithTimeout(&blockingGateway{}, time.Second).Execute(ctx, ExecuteRequest{})
	if !stdErrors.Is(err, context.Canceled) || xerrors.CodeOf(err) == xerrors.CodeTimeout {
		t.Fatalf("caller cancellation should pass through, got %v", err)
	}
}

func TestFailureKeepsCodedErrors(t *testing.T) {
	timeout := xerrors.New(xerrors.CodeTimeout, "slow")
	if Failure("execute", timeout) != timeout {
		t.Fatalf("coded error should be returned unchanged")
	}
	wrapped := Failure("execute", stdErrors.New("dial tcp"))
	if xerrors.CodeOf(wrapped) != xerrors.CodeGatewayFailure {
		t.Fatalf("expected gateway failure, got %v", wrapped)
	}
	if Failure("execute", nil) != nil {
		t.Fatalf("nil error should stay nil")
	}
}
