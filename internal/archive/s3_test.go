package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/analyzer"
	"github.com/KevinKickass/OpenLabCore/internal/measurement"
	"github.com/KevinKickass/OpenLabCore/internal/task"
)

type memStore struct {
	objects map[string][]byte
	failOn  string
}

func (m *memStore) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	if m.failOn != "" && strings.HasSuffix(key, m.failOn) {
		return nil, errors.New("bucket full")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *memStore) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("no such key")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func sampleData() *task.ExperimentData {
	ids := &task.IDGenerator{}
	t := task.NewImpedance(ids, analyzer.KindSimulator, analyzer.DefaultParams(analyzer.KindSimulator))
	data := task.NewExperimentData("sweep")
	data.AddImpedanceSpectrum(t, measurement.Spectrum{
		measurement.NewDataPoint(100, 10, -1),
		measurement.NewDataPoint(1000, 9, -2),
	})
	data.AddImpedanceSpectrum(t, measurement.Spectrum{measurement.NewDataPoint(100, 8, -3)})
	return data
}

func TestUpload(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}}
	a := NewWithClient(store, "spectra", "executions", zap.NewNop())
	id := uuid.New()

	keys, err := a.Upload(context.Background(), id, sampleData())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"executions/" + id.String() + "/imp_spectrum_0.csv",
		"executions/" + id.String() + "/imp_spectrum_1.csv",
	}, keys)

	body, err := a.Fetch(context.Background(), keys[0])
	require.NoError(t, err)
	s, meta, err := measurement.ReadCSV(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Nil(t, meta)
	require.Len(t, s, 2)
	assert.Equal(t, 1000.0, s[1].X())
	assert.InDelta(t, -2.0, s[1].Imag(), 1e-9)
}

func TestUpload_StopsAtFailure(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}, failOn: "imp_spectrum_1.csv"}
	a := NewWithClient(store, "spectra", "", zap.NewNop())
	id := uuid.New()

	keys, err := a.Upload(context.Background(), id, sampleData())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket full")
	assert.Equal(t, []string{id.String() + "/imp_spectrum_0.csv"}, keys)
}

func TestFetch_Missing(t *testing.T) {
	a := NewWithClient(&memStore{objects: map[string][]byte{}}, "spectra", "", zap.NewNop())
	_, err := a.Fetch(context.Background(), "nope.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to download nope.csv")
}
