package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voxlog/internal/observe"
	"github.com/MrWong99/voxlog/pkg/recording"
)

// MCP tool names.
const (
	ToolListRecordings  = "list_recordings"
	ToolGetRecording    = "get_recording"
	ToolSearchRecording = "search_recordings"
	ToolCaptureState    = "capture_state"
)

type listRecordingsArgs struct {
	Day  string `json:"day,omitempty" jsonschema:"day folder YYYY-MM-DD, defaults to today"`
	Hour string `json:"hour,omitempty" jsonschema:"hour folder such as 14:00-15:00; every hour of the day when empty"`
}

type getRecordingArgs struct {
	ID int64 `json:"id" jsonschema:"recording id"`
}

type searchRecordingsArgs struct {
	Query    string `json:"query" jsonschema:"text to look for in titles and transcripts"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 20"`
	Semantic bool   `json:"semantic,omitempty" jsonschema:"rank by embedding similarity instead of text matching"`
}

type captureStateArgs struct{}

func (s *Server) newMCPServer() *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "voxlog", Version: s.cfg.Version}, nil)

	addTool(srv, s.cfg.Metrics, &mcpsdk.Tool{
		Name:        ToolListRecordings,
		Description: "List the recordings of a day, or of one hour of that day, newest first.",
	}, s.listRecordings)
	addTool(srv, s.cfg.Metrics, &mcpsdk.Tool{
		Name:        ToolGetRecording,
		Description: "Fetch one recording with its transcript and title.",
	}, s.getRecording)
	addTool(srv, s.cfg.Metrics, &mcpsdk.Tool{
		Name:        ToolSearchRecording,
		Description: "Search recordings by title and transcript.",
	}, s.searchRecordings)
	addTool(srv, s.cfg.Metrics, &mcpsdk.Tool{
		Name:        ToolCaptureState,
		Description: "Report whether capture is running and what the monitor is doing.",
	}, func(context.Context, captureStateArgs) (any, error) { return s.snapshot(), nil })

	return srv
}

// addTool registers fn as a typed tool. The value fn returns is encoded as
// JSON text content; an error becomes an error result.
func addTool[In any](srv *mcpsdk.Server, m *observe.Metrics, tool *mcpsdk.Tool, fn func(context.Context, In) (any, error)) {
	mcpsdk.AddTool(srv, tool, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, any, error) {
		out, err := fn(ctx, in)
		if err == nil {
			var data []byte
			data, err = json.Marshal(out)
			if err == nil {
				m.RecordToolCall(ctx, tool.Name, "ok")
				return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}}}, nil, nil
			}
			err = fmt.Errorf("encode result: %w", err)
		}
		m.RecordToolCall(ctx, tool.Name, "error")
		observe.Logger(ctx).Warn("api: mcp tool failed", "tool", tool.Name, "err", err)
		return &mcpsdk.CallToolResult{
			IsError: true,
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: tool.Name + ": " + err.Error()}},
		}, nil, nil
	})
}

func (s *Server) listRecordings(ctx context.Context, a listRecordingsArgs) (any, error) {
	repo := s.cfg.Repository
	day := a.Day
	if day == "" {
		day = recording.DayFolder(time.Now())
	}
	if a.Hour != "" {
		return repo.InHour(ctx, day, a.Hour)
	}
	hours, err := repo.Hours(ctx, day)
	if err != nil {
		return nil, err
	}
	out := []recording.Recording{}
	for _, h := range hours {
		recs, err := repo.InHour(ctx, day, h)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (s *Server) getRecording(ctx context.Context, a getRecordingArgs) (any, error) {
	if a.ID <= 0 {
		return nil, errors.New("id must be positive")
	}
	return s.cfg.Repository.Get(ctx, a.ID)
}

func (s *Server) searchRecordings(ctx context.Context, a searchRecordingsArgs) (any, error) {
	if a.Query == "" {
		return nil, errors.New("query must not be empty")
	}
	return s.search(ctx, a.Query, a.Limit, a.Semantic)
}
