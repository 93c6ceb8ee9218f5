package oracle_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/pledge/internal/oracle"
	"github.com/dyluth/pledge/internal/oracle/mocks"
	"github.com/dyluth/pledge/internal/prefilter"
	"github.com/dyluth/pledge/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testRequest() oracle.Request {
	return oracle.Request{
		EvidenceID:  "e-1",
		Title:       "Bill C-5: Act to amend the Criminal Code",
		Description: "Repeals mandatory minimum penalties",
		SourceType:  ledger.SourceTypeBillEvent,
		EventDate:   time.Date(2022, 11, 17, 0, 0, 0, 0, time.UTC),
		Candidates: []oracle.Candidate{
			{PromiseID: "P1", Text: "Reform mandatory minimum sentencing"},
			{PromiseID: "P2", Text: "Expand rural broadband"},
		},
	}
}

func TestAdapterJudge(t *testing.T) {
	ctx := context.Background()

	t.Run("parses a valid reply", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		completer := mocks.NewMockCompleter(ctrl)
		completer.EXPECT().
			Complete(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, prompt string) (string, error) {
				assert.Contains(t, prompt, "[P1] Reform mandatory minimum sentencing")
				assert.Contains(t, prompt, "[P2] Expand rural broadband")
				assert.Contains(t, prompt, "Bill C-5")
				_, hasDeadline := ctx.Deadline()
				assert.True(t, hasDeadline, "oracle calls must carry a deadline")
				return "```json\n{\"judgments\":[{\"promise_id\":\"P1\",\"confidence\":0.9,\"rationale\":\"same policy\"}]}\n```", nil
			}).
			Times(1)

		adapter := oracle.NewAdapter(completer, time.Second, nil)
		judgments, err := adapter.Judge(ctx, testRequest())
		require.NoError(t, err)
		require.Len(t, judgments, 1)
		assert.Equal(t, "P1", judgments[0].PromiseID)
		assert.Equal(t, 0.9, *judgments[0].Confidence)
	})

	t.Run("no candidates means no call", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		completer := mocks.NewMockCompleter(ctrl)
		completer.EXPECT().Complete(gomock.Any(), gomock.Any()).Times(0)

		req := testRequest()
		req.Candidates = nil
		judgments, err := oracle.NewAdapter(completer, time.Second, nil).Judge(ctx, req)
		require.NoError(t, err)
		assert.Empty(t, judgments)
	})

	t.Run("service error is unavailable", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		completer := mocks.NewMockCompleter(ctrl)
		completer.EXPECT().Complete(gomock.Any(), gomock.Any()).Return("", errors.New("503 service unavailable"))

		core, logs := observer.New(zap.WarnLevel)
		_, err := oracle.NewAdapter(completer, time.Second, zap.New(core)).Judge(ctx, testRequest())
		require.Error(t, err)
		assert.True(t, oracle.IsKind(err, oracle.KindUnavailable))
		assert.Equal(t, 1, logs.FilterMessage("oracle_unavailable").Len())
	})

	t.Run("deadline is a timeout", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		completer := mocks.NewMockCompleter(ctrl)
		completer.EXPECT().
			Complete(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, prompt string) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			})

		_, err := oracle.NewAdapter(completer, 20*time.Millisecond, nil).Judge(ctx, testRequest())
		require.Error(t, err)
		assert.True(t, oracle.IsKind(err, oracle.KindTimeout))
		assert.Equal(t, oracle.KindTimeout, oracle.KindOf(err))
	})

	t.Run("unparseable reply is malformed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		completer := mocks.NewMockCompleter(ctrl)
		completer.EXPECT().Complete(gomock.Any(), gomock.Any()).Return("I think P1 is relevant.", nil)

		_, err := oracle.NewAdapter(completer, time.Second, nil).Judge(ctx, testRequest())
		require.Error(t, err)
		assert.True(t, oracle.IsKind(err, oracle.KindMalformed))
	})

	t.Run("caller cancellation is passed through", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		completer := mocks.NewMockCompleter(ctrl)

		cancelled, cancel := context.WithCancel(ctx)
		completer.EXPECT().
			Complete(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, prompt string) (string, error) {
				cancel()
				return "", ctx.Err()
			})

		_, err := oracle.NewAdapter(completer, time.Second, nil).Judge(cancelled, testRequest())
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, oracle.Kind(""), oracle.KindOf(err))
	})
}

func TestNewRequest(t *testing.T) {
	e := &ledger.EvidenceItem{
		ID:          "e-1",
		SourceType:  ledger.SourceTypeNewsRelease,
		Title:       "Minister announces",
		Description: "Details",
		EventDate:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	req := oracle.NewRequest(e, []prefilter.Candidate{{PromiseID: "P1", Text: "t", Similarity: 0.5}})

	assert.Equal(t, "e-1", req.EvidenceID)
	assert.Equal(t, ledger.SourceTypeNewsRelease, req.SourceType)
	assert.Equal(t, []oracle.Candidate{{PromiseID: "P1", Text: "t"}}, req.Candidates)
}

func TestBuildPrompt(t *testing.T) {
	prompt := oracle.BuildPrompt(testRequest())

	assert.Contains(t, prompt, "Source type: bill_event")
	assert.Contains(t, prompt, "Date: 2022-11-17")
	assert.Contains(t, prompt, "1. [P1]")
	assert.Contains(t, prompt, "2. [P2]")
	assert.Contains(t, prompt, `"judgments"`)

	multiline := testRequest()
	multiline.Title = "Line one\nLine two"
	assert.True(t, strings.Contains(oracle.BuildPrompt(multiline), "Title: Line one Line two"))
}
