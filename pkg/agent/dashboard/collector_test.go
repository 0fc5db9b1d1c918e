package dashboard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline-io/faultline/pkg/models"
	"github.com/faultline-io/faultline/pkg/obs/grafana"
)

var incidentTime = time.Date(2024, 3, 5, 14, 12, 0, 0, time.UTC)

type fakeService struct {
	hits        []grafana.DashboardHit
	boards      map[string]*grafana.Dashboard
	annotations []grafana.Annotation
	searchErr   error
	annErr      error
}

func (f *fakeService) Search(ctx context.Context, query string, tags []string) ([]grafana.DashboardHit, error) {
	return f.hits, f.searchErr
}

func (f *fakeService) Dashboard(ctx context.Context, uid string) (*grafana.Dashboard, error) {
	b, ok := f.boards[uid]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

func (f *fakeService) Annotations(ctx context.Context, from, to time.Time, tags []string) ([]grafana.Annotation, error) {
	return f.annotations, f.annErr
}

func snapshot() models.Snapshot {
	return models.Snapshot{
		Plan: models.Plan{
			IncidentTime:     incidentTime,
			AffectedServices: []string{"payments"},
			SearchWindows: map[models.SourceKind]models.Window{
				models.SourceDashboard: {Before: 30 * time.Minute, After: 30 * time.Minute},
			},
		},
	}
}

func TestCollectBoardsAndAnnotations(t *testing.T) {
	svc := &fakeService{
		hits: []grafana.DashboardHit{{UID: "pay-ovw", Title: "Payments Overview"}},
		boards: map[string]*grafana.Dashboard{
			"pay-ovw": {UID: "pay-ovw", Title: "Payments Overview", Tags: []string{"payments"},
				Panels: []grafana.Panel{{Title: "Error Rate"}}},
		},
		annotations: []grafana.Annotation{
			{Time: incidentTime.Add(-10 * time.Minute), Text: "Deployed payments v2.3.1",
				Tags: []string{"deployment"}},
		},
	}

	c := New(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := c.Collect(context.Background(), snapshot())
	require.NoError(t, err)
	require.Len(t, res.Evidence, 2)

	board := res.Evidence[0]
	require.NotNil(t, board.Dashboard)
	assert.Equal(t, "pay-ovw", board.Dashboard.UID)
	assert.Contains(t, board.Content, "Error Rate")

	ann := res.Evidence[1]
	require.NotNil(t, ann.Timestamp)
	assert.Contains(t, ann.Content, "Deployed payments v2.3.1")
	// Deployment annotations score higher than generic ones.
	assert.Equal(t, 0.8, ann.Confidence)
	require.NotNil(t, res.Confidence)
	assert.Equal(t, 0.8, *res.Confidence)
}

func TestAnnotationFailureIsNonFatal(t *testing.T) {
	svc := &fakeService{
		hits: []grafana.DashboardHit{{UID: "pay-ovw", Title: "Payments Overview"}},
		boards: map[string]*grafana.Dashboard{
			"pay-ovw": {UID: "pay-ovw", Title: "Payments Overview"},
		},
		annErr: errors.New("forbidden"),
	}

	c := New(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := c.Collect(context.Background(), snapshot())
	require.NoError(t, err)
	assert.Len(t, res.Evidence, 1)
}

func TestSearchFailure(t *testing.T) {
	c := New(&fakeService{searchErr: errors.New("unreachable")}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := c.Collect(context.Background(), snapshot())
	assert.Error(t, err)
}

func TestDedupAcrossServiceQueries(t *testing.T) {
	svc := &fakeService{
		hits: []grafana.DashboardHit{{UID: "shared", Title: "Shared Board"}},
		boards: map[string]*grafana.Dashboard{
			"shared": {UID: "shared", Title: "Shared Board"},
		},
	}

	snap := snapshot()
	snap.Plan.AffectedServices = []string{"payments", "api-gateway"}

	c := New(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := c.Collect(context.Background(), snap)
	require.NoError(t, err)
	assert.Len(t, res.Evidence, 1)
}
