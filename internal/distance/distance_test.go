package distance

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region dtw-tests

func TestDTW_IdenticalIsZero(t *testing.T) {
	a := [][]float64{{1, 2}, {3, 4}, {5, 6}}
	d, err := DTW(a, a)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)
}

func TestDTW_WarpsRepeatedEvents(t *testing.T) {
	a := [][]float64{{0}, {1}, {2}}
	b := [][]float64{{0}, {0}, {1}, {1}, {2}}
	d, err := DTW(a, b)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d, "stretched copy aligns perfectly")
}

func TestDTW_KnownValue(t *testing.T) {
	a := [][]float64{{0}, {0}}
	b := [][]float64{{3}, {4}}
	d, err := DTW(a, b)
	require.NoError(t, err)
	// diagonal path: 9 + 16 = 25
	assert.InDelta(t, 5.0, d, 1e-12)
}

func TestDTW_ShapeErrors(t *testing.T) {
	_, err := DTW(nil, [][]float64{{1}})
	assert.ErrorIs(t, err, ErrShape)
	_, err = DTW([][]float64{{1, 2}}, [][]float64{{1}})
	assert.ErrorIs(t, err, ErrShape)
}

// #endregion dtw-tests

// #region normalize-tests

func TestNormalize_Joint(t *testing.T) {
	a := [][]float64{{0, 5}, {10, 5}}
	b := [][]float64{{5, 5}}
	na, nb, err := Normalize(a, b)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 0}, {1, 0}}, na)
	assert.Equal(t, [][]float64{{0.5, 0}}, nb)
}

func TestDissimilarity_ScaleInvariant(t *testing.T) {
	f := Dissimilarity(DTW, true)
	a := [][]float64{{1}, {2}, {3}}
	b := [][]float64{{100}, {200}, {300}}
	d1, err := f(a, a)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d1)

	d2, err := f(a, b)
	require.NoError(t, err)
	assert.Greater(t, d2, 0.0)
}

func TestUnivariate_Averages(t *testing.T) {
	a := [][]float64{{0, 0}}
	b := [][]float64{{3, 1}}
	d, err := Univariate(DTW)(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, d, 1e-12)

	multi, err := DTW(a, b)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(10), multi, 1e-12)
}

// #endregion normalize-tests

// #region client-tests

type mockService struct {
	calls int
	errs  []error
	resp  *structpb.Struct
	last  *structpb.Struct
}

func (m *mockService) Distance(_ context.Context, in *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	m.last = in
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return m.resp, nil
}

func distanceResp(t *testing.T, d any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(map[string]any{"distance": d})
	require.NoError(t, err)
	return s
}

func TestNewClientInvalidAddr(t *testing.T) {
	client, err := NewClient("localhost:0")
	require.NoError(t, err, "grpc.NewClient connects lazily")
	assert.NoError(t, client.Close())
}

func TestClient_Distance(t *testing.T) {
	svc := &mockService{resp: distanceResp(t, 1.25)}
	c := NewClientWithService(svc)

	d, err := c.Distance(context.Background(), [][]float64{{1, 2}}, [][]float64{{3, 4}})
	require.NoError(t, err)
	assert.Equal(t, 1.25, d)
	assert.Equal(t, 1, svc.calls)

	a := svc.last.GetFields()["a"].GetListValue().GetValues()
	require.Len(t, a, 1)
	assert.Equal(t, 2.0, a[0].GetListValue().GetValues()[1].GetNumberValue())
	assert.NoError(t, c.Close())
}

func TestClient_RetriesUnavailable(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "down")
	svc := &mockService{
		errs: []error{unavailable, unavailable},
		resp: distanceResp(t, 0.5),
	}
	d, err := NewClientWithService(svc).Func(context.Background())([][]float64{{1}}, [][]float64{{1}})
	require.NoError(t, err)
	assert.Equal(t, 0.5, d)
	assert.Equal(t, 3, svc.calls)
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "down")
	svc := &mockService{errs: []error{unavailable, unavailable, unavailable}}
	_, err := NewClientWithService(svc).Distance(context.Background(), [][]float64{{1}}, [][]float64{{1}})
	require.Error(t, err)
	assert.Equal(t, 3, svc.calls)
}

func TestClient_BacksOffBetweenRetries(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "down")
	svc := &mockService{
		errs: []error{unavailable, unavailable},
		resp: distanceResp(t, 0.5),
	}
	start := time.Now()
	_, err := NewClientWithService(svc).WithBackoff(10*time.Millisecond).Distance(context.Background(), [][]float64{{1}}, [][]float64{{1}})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond, "10ms then 20ms")
	assert.Equal(t, 3, svc.calls)
}

func TestClient_BackoffHonorsContext(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "down")
	svc := &mockService{errs: []error{unavailable, unavailable, unavailable}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClientWithService(svc).WithBackoff(time.Hour).Distance(ctx, [][]float64{{1}}, [][]float64{{1}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, svc.calls)
}

func TestClient_NoRetryOnOtherErrors(t *testing.T) {
	svc := &mockService{errs: []error{errors.New("boom")}}
	_, err := NewClientWithService(svc).Distance(context.Background(), [][]float64{{1}}, [][]float64{{1}})
	require.Error(t, err)
	assert.Equal(t, 1, svc.calls)
}

func TestClient_BadResponse(t *testing.T) {
	for name, resp := range map[string]*structpb.Struct{
		"missing":  {},
		"null":     distanceResp(t, nil),
		"string":   distanceResp(t, "far"),
		"negative": distanceResp(t, -1.0),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewClientWithService(&mockService{resp: resp}).Distance(context.Background(), [][]float64{{1}}, [][]float64{{1}})
			assert.Error(t, err)
		})
	}
}

// #endregion client-tests
