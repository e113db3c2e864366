package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	bedrockruntime "github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/glue"

	"sewdle/internal/nlq"
	"sewdle/internal/tenancy"
)

// AskHandler answers natural-language questions about the daily stock lake:
// question -> SQL (Bedrock) -> guardrails -> Athena -> shaped result.
type AskHandler struct {
	cfg  aws.Config
	glue *glue.Client
	ddb  *dynamodb.Client
}

func NewAskHandler(cfg aws.Config) *AskHandler {
	return &AskHandler{
		cfg:  cfg,
		glue: glue.NewFromConfig(cfg),
		ddb:  dynamodb.NewFromConfig(cfg),
	}
}

type AskRequest struct {
	Question string   `json:"question"`
	ShopIDs  []string `json:"shop_ids,omitempty"` // optional subset
}

func (h *AskHandler) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if resp, ok := preflight(req); ok {
		return resp, nil
	}

	var body AskRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return jsonErr(http.StatusBadRequest, "invalid_json", err), nil
	}
	body.Question = strings.TrimSpace(body.Question)
	if body.Question == "" {
		return jsonErr(http.StatusBadRequest, "question_required", nil), nil
	}

	sub := ""
	if req.RequestContext.Authorizer.JWT.Claims != nil {
		sub = req.RequestContext.Authorizer.JWT.Claims["sub"]
	}
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return jsonErr(http.StatusUnauthorized, "missing_user_sub", nil), nil
	}

	// Tenant scoping: the model only ever sees shops this user owns.
	allowedShopIDs, err := tenancy.GetAllowedShopsByUserSub(ctx, h.ddb, sub)
	if err != nil {
		return jsonErr(http.StatusInternalServerError, "shop_lookup_failed", err), nil
	}
	if len(allowedShopIDs) == 0 {
		return jsonOK(map[string]any{
			"type":  "no_shops",
			"error": "no shops connected to this user",
		}), nil
	}

	effectiveShopIDs := intersectAllowed(body.ShopIDs, allowedShopIDs)
	if len(effectiveShopIDs) == 0 {
		return jsonErr(http.StatusForbidden, "no_allowed_shops_in_request", nil), nil
	}
	allowedShopIDs = effectiveShopIDs

	schema, err := nlq.LoadTableSchemaFromEnv(ctx, h.glue)
	if err != nil {
		return jsonErr(http.StatusInternalServerError, "glue_get_table_failed", err), nil
	}
	schemaText := nlq.CompactSchemaText(schema)

	maxDays := 60
	if v := strings.TrimSpace(os.Getenv("ASSISTANT_MAX_DAYS")); v != "" {
		if n, perr := strconv.Atoi(v); perr == nil && n > 0 && n <= 365 {
			maxDays = n
		}
	}
	today := nlq.TodayISO()
	tz := strings.TrimSpace(os.Getenv("ASSISTANT_TIMEZONE"))
	if tz == "" {
		tz = "America/Bogota"
	}

	schemaHash := nlq.SchemaHash(schemaText)

	ck := nlq.CacheKey{
		UserSub:    sub,
		Shops:      allowedShopIDs,
		Question:   body.Question,
		TodayISO:   today,
		MaxDays:    maxDays,
		SchemaHash: schemaHash,
	}

	if cached, ok, cerr := nlq.GetCached(ctx, h.ddb, ck); cerr == nil && ok {
		return jsonOK(map[string]any{
			"type":          "result",
			"cached":        true,
			"sql":           cached.SQL,
			"assumptions":   cached.Assumptions,
			"confidence":    cached.Confidence,
			"result":        nlq.ShapeResult(cached.Columns, cached.Rows),
			"query_id":      cached.QueryID,
			"scanned_bytes": cached.ScannedBytes,
			"exec_ms":       cached.ExecMs,
		}), nil
	}

	prompt := nlq.BuildPrompt(nlq.LLMRequest{
		Question:        body.Question,
		AllowedShopIDs:  allowedShopIDs,
		MaxDaysLookback: maxDays,
		SchemaText:      schemaText,
		TodayISO:        today,
		DefaultTimezone: tz,
	})

	br := bedrockruntime.NewFromConfig(h.cfg)
	ath := athena.NewFromConfig(h.cfg)

	llmRes, err := nlq.InvokeBedrockClaude(ctx, br, prompt)
	if err != nil {
		return jsonErr(http.StatusInternalServerError, "bedrock_error", err), nil
	}

	if llmRes.NeedsClarification {
		return jsonOK(map[string]any{
			"type":                "clarification",
			"clarifying_question": llmRes.ClarifyingQuestion,
			"assumptions":         llmRes.Assumptions,
			"confidence":          llmRes.Confidence,
		}), nil
	}

	guardrails := nlq.GuardrailOptions{
		AllowedShopIDs:  allowedShopIDs,
		RequireDTFilter: true,
		MaxDaysLookback: maxDays,
		TodayISO:        today,
	}
	if err := nlq.ValidateSQL(llmRes.SQL, guardrails); err != nil {
		return jsonOK(map[string]any{
			"type":        "sql_rejected",
			"reason":      err.Error(),
			"model_sql":   llmRes.SQL,
			"assumptions": llmRes.Assumptions,
			"confidence":  llmRes.Confidence,
		}), nil
	}

	athOpt := nlq.AthenaRunOptions{
		Database:       strings.TrimSpace(os.Getenv("ATHENA_DATABASE")),
		Workgroup:      strings.TrimSpace(os.Getenv("ATHENA_WORKGROUP")),
		OutputLocation: strings.TrimSpace(os.Getenv("ATHENA_OUTPUT_S3")),
		MaxWait:        25 * time.Second,
		PollInterval:   700 * time.Millisecond,
		MaxResultRows:  200,
	}

	finalLLM, athRes, runErr := nlq.ExecuteWithSelfCorrection(
		ctx,
		br,
		ath,
		guardrails,
		athOpt,
		body.Question,
		schemaText,
		allowedShopIDs,
		maxDays,
		today,
		tz,
		llmRes,
		2, // max fix attempts
	)
	if runErr != nil {
		lastSQL := ""
		lastAssumptions := []string(nil)
		lastConfidence := 0.0
		if finalLLM != nil {
			lastSQL = finalLLM.SQL
			lastAssumptions = finalLLM.Assumptions
			lastConfidence = finalLLM.Confidence
		}
		return jsonOK(map[string]any{
			"type":        "athena_failed",
			"error":       runErr.Error(),
			"last_sql":    lastSQL,
			"assumptions": lastAssumptions,
			"confidence":  lastConfidence,
		}), nil
	}

	if athRes == nil && finalLLM != nil && finalLLM.NeedsClarification {
		return jsonOK(map[string]any{
			"type":                "clarification",
			"clarifying_question": finalLLM.ClarifyingQuestion,
			"assumptions":         finalLLM.Assumptions,
			"confidence":          finalLLM.Confidence,
		}), nil
	}

	_ = nlq.PutCached(ctx, h.ddb, ck, nlq.CachedResponse{
		SQL:          finalLLM.SQL,
		Columns:      athRes.Columns,
		Rows:         athRes.Rows,
		Assumptions:  finalLLM.Assumptions,
		Confidence:   finalLLM.Confidence,
		ScannedBytes: athRes.ScannedBytes,
		ExecMs:       athRes.ExecutionMs,
		QueryID:      athRes.QueryExecutionID,
	})

	return jsonOK(map[string]any{
		"type":          "result",
		"sql":           finalLLM.SQL,
		"assumptions":   finalLLM.Assumptions,
		"confidence":    finalLLM.Confidence,
		"result":        nlq.ShapeResult(athRes.Columns, athRes.Rows),
		"query_id":      athRes.QueryExecutionID,
		"scanned_bytes": athRes.ScannedBytes,
		"exec_ms":       athRes.ExecutionMs,
	}), nil
}

func jsonOK(v any) events.APIGatewayV2HTTPResponse {
	b, _ := json.Marshal(v)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: string(b),
	}
}

func jsonErr(status int, msg string, err error) events.APIGatewayV2HTTPResponse {
	resp := map[string]any{"error": msg}
	if err != nil {
		resp["detail"] = err.Error()
	}
	b, _ := json.Marshal(resp)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: string(b),
	}
}
