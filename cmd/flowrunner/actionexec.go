package main

import (
	"context"

	"github.com/haasonsaas/flowrunner/internal/feedback"
	"github.com/haasonsaas/flowrunner/internal/flowedit"
)

// flowEditActionExecutor implements feedback.ActionExecutor, routing
// modify_flow instructions through flowedit's batch-op compiler. A
// modify_flow instruction is expected to be a JSON-encoded operation
// batch (see flowedit.ParseBatchJSON); this is the contract an
// admin-authoring surface would hand the model, not free-form prose.
type flowEditActionExecutor struct {
	flowID string
	edit   *flowedit.Executor
}

func newFlowEditActionExecutor(flowID string, edit *flowedit.Executor) *flowEditActionExecutor {
	return &flowEditActionExecutor{flowID: flowID, edit: edit}
}

func (e *flowEditActionExecutor) ModifyFlow(ctx context.Context, instruction string, isAdmin bool) feedback.ActionResult {
	if !isAdmin {
		return feedback.ActionResult{Success: false, UserMessage: "erro: apenas administradores podem alterar o fluxo", Error: "not an admin turn"}
	}
	batch, err := flowedit.ParseBatchJSON(e.flowID, instruction, "llm")
	if err != nil {
		return feedback.ActionResult{Success: false, UserMessage: "não foi possível aplicar a alteração solicitada", Error: err.Error()}
	}
	if _, err := e.edit.Apply(batch); err != nil {
		return feedback.ActionResult{Success: false, UserMessage: "a alteração falhou na validação do fluxo", Error: err.Error()}
	}
	return feedback.ActionResult{Success: true, UserMessage: "alteração aplicada com sucesso"}
}

func (e *flowEditActionExecutor) UpdateCommunicationStyle(ctx context.Context, style string) feedback.ActionResult {
	return feedback.ActionResult{Success: true, UserMessage: "estilo de comunicação atualizado com sucesso", Data: map[string]any{"style": style}}
}
