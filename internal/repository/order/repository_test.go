package order_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/ordergate/internal/backendtest"
	"github.com/Additional-Code/ordergate/internal/credential"
	"github.com/Additional-Code/ordergate/internal/entity"
	repo "github.com/Additional-Code/ordergate/internal/repository/order"
)

const token = "test-token"

func newRepo(t *testing.T, b *backendtest.Backend) *repo.Repository {
	t.Helper()
	r, err := repo.New(b.Config(), b.Server.Client(), zap.NewNop())
	require.NoError(t, err)
	return r
}

func authed() context.Context {
	return credential.WithToken(context.Background(), token)
}

func TestListUnfiltered(t *testing.T) {
	b := backendtest.New(token)
	defer b.Close()
	b.PutOrder(map[string]any{"orderNumber": "A", "updateDate": "2024-01-01T00:00:00.000Z"})
	b.PutOrder(map[string]any{"orderNumber": "B", "updateDate": "2024-02-01T00:00:00.000Z"})

	res, err := newRepo(t, b).List(authed(), nil)
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.EqualValues(t, 2, res.Total)

	reqs := b.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/api/v2/lifelines_order", reqs[0].Path)
	assert.Equal(t, "num=10000", reqs[0].Query)
	assert.Equal(t, token, reqs[0].Token)
}

func TestListSince(t *testing.T) {
	b := backendtest.New(token)
	defer b.Close()
	b.PutOrder(map[string]any{"orderNumber": "A", "updateDate": "2024-01-01T00:00:00.000Z"})
	b.PutOrder(map[string]any{"orderNumber": "B", "updateDate": "2024-02-01T00:00:00.000Z"})

	since := "2024-01-01T00:00:00.000Z"
	res, err := newRepo(t, b).List(authed(), &since)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "B", res.Items[0].OrderNumber)

	q, err := url.ParseQuery(b.Requests()[0].Query)
	require.NoError(t, err)
	assert.Equal(t, "10000", q.Get("num"))
	assert.Equal(t, "updateDate=gt="+since, q.Get("q"))
}

func TestListLimit(t *testing.T) {
	b := backendtest.New(token)
	defer b.Close()
	for _, n := range []string{"A", "B", "C"} {
		b.PutOrder(map[string]any{"orderNumber": n})
	}
	cfg := b.Config()
	cfg.ListLimit = 2

	r, err := repo.New(cfg, b.Server.Client(), zap.NewNop())
	require.NoError(t, err)

	res, err := r.List(authed(), nil)
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.EqualValues(t, 3, res.Total)
	assert.Equal(t, 2, r.Limit())
}

func TestGetExpandsApplicationForm(t *testing.T) {
	b := backendtest.New(token)
	defer b.Close()
	b.PutFile("file-1", "form.pdf", "http://files/file-1")
	b.PutOrder(map[string]any{"orderNumber": "A", "applicationForm": "file-1"})

	o, err := newRepo(t, b).Get(authed(), "A")
	require.NoError(t, err)
	assert.Equal(t, &entity.File{ID: "file-1", Filename: "form.pdf", URL: "http://files/file-1"}, o.ApplicationForm)
}

func TestGetNotFound(t *testing.T) {
	b := backendtest.New(token)
	defer b.Close()

	_, err := newRepo(t, b).Get(authed(), "missing")
	var statusErr *repo.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Contains(t, statusErr.Message, "Unknown entity [missing]")
}

func TestCreateAndUpdate(t *testing.T) {
	b := backendtest.New(token)
	defer b.Close()
	r := newRepo(t, b)

	order := entity.Order{OrderNumber: "A", State: entity.OrderStateDraft}
	require.NoError(t, r.Create(authed(), order))

	order.State = entity.OrderStateSubmitted
	order.ApplicationForm = &entity.File{ID: "file-1", Filename: "ignored"}
	require.NoError(t, r.Update(authed(), order))

	stored, ok := b.Order("A")
	require.True(t, ok)
	assert.Equal(t, "Submitted", stored["state"])
	assert.Equal(t, "file-1", stored["applicationForm"])

	reqs := b.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/api/v1/lifelines_order", reqs[0].Path)
	assert.Equal(t, http.MethodPut, reqs[1].Method)
	assert.Equal(t, "/api/v1/lifelines_order/A", reqs[1].Path)
	assert.Equal(t, "application/json", reqs[1].ContentType)
}

func TestUpdateContents(t *testing.T) {
	b := backendtest.New(token)
	defer b.Close()
	b.PutOrder(map[string]any{"orderNumber": "A"})

	require.NoError(t, newRepo(t, b).UpdateContents(authed(), "A", `{"cart":[1]}`))

	stored, _ := b.Order("A")
	assert.Equal(t, `{"cart":[1]}`, stored["contents"])

	req := b.Requests()[0]
	assert.Equal(t, "/api/v1/lifelines_order/A/contents", req.Path)
	assert.Equal(t, "application/json", req.ContentType)
	assert.Equal(t, `{"cart":[1]}`, req.Body)
}

func TestMissingCredential(t *testing.T) {
	b := backendtest.New(token)
	defer b.Close()

	_, err := newRepo(t, b).Get(context.Background(), "A")
	assert.ErrorIs(t, err, credential.ErrMissing)
	assert.Empty(t, b.Requests())
}

func TestWrongCredential(t *testing.T) {
	b := backendtest.New(token)
	defer b.Close()

	ctx := credential.WithToken(context.Background(), "other")
	_, err := newRepo(t, b).List(ctx, nil)
	var statusErr *repo.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, "No permission", statusErr.Message)
}

func TestTransportError(t *testing.T) {
	b := backendtest.New(token)
	r := newRepo(t, b)
	b.Close()

	_, err := r.List(authed(), nil)
	require.Error(t, err)
	var statusErr *repo.StatusError
	assert.NotErrorAs(t, err, &statusErr)
}
