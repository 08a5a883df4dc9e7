package feedback

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubExecutor struct {
	modifyResult ActionResult
	styleResult  ActionResult
}

func (s *stubExecutor) ModifyFlow(_ context.Context, _ string, _ bool) ActionResult {
	return s.modifyResult
}

func (s *stubExecutor) UpdateCommunicationStyle(_ context.Context, _ string) ActionResult {
	return s.styleResult
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunModifyFlowTruthfulSuccess(t *testing.T) {
	exec := &stubExecutor{modifyResult: ActionResult{Success: true, UserMessage: "Alteração aplicada com sucesso"}}
	l := New(context.Background(), exec, testLogger())
	exch := l.RunModifyFlow("add a step", true)
	assert.True(t, exch.Truthful)
	assert.True(t, exch.Result.Success)
}

func TestRunModifyFlowCatchesContradictingSuccess(t *testing.T) {
	exec := &stubExecutor{modifyResult: ActionResult{Success: true, UserMessage: "ocorreu um erro ao salvar"}}
	l := New(context.Background(), exec, testLogger())
	exch := l.RunModifyFlow("add a step", true)
	assert.False(t, exch.Truthful)
	assert.False(t, exch.Result.Success)
	assert.NotEmpty(t, exch.Result.Error)
}

func TestRunUpdateCommunicationStyleCatchesContradictingFailure(t *testing.T) {
	exec := &stubExecutor{styleResult: ActionResult{Success: false, UserMessage: "estilo aplicado com sucesso ✅"}}
	l := New(context.Background(), exec, testLogger())
	exch := l.RunUpdateCommunicationStyle("casual")
	assert.False(t, exch.Truthful)
}

func TestIsTruthfulNeutralMessagePasses(t *testing.T) {
	res := ActionResult{Success: true, UserMessage: "done"}
	assert.True(t, IsTruthfulMessage(res.Success, res.UserMessage))
}

func TestIsTruthfulFailureWithFailureMarker(t *testing.T) {
	res := ActionResult{Success: false, UserMessage: "a operação falhou"}
	assert.True(t, IsTruthfulMessage(res.Success, res.UserMessage))
}
