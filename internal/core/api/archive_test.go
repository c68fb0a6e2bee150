package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/gears/internal/types"
)

func TestArchive_AppendsJSONL(t *testing.T) {
	a, err := NewArchive(t.TempDir())
	require.NoError(t, err)
	fixed := time.Date(2024, 3, 14, 23, 59, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, a.Append("d", []byte(`{"actions":[]}`)))
		}()
	}
	wg.Wait()

	f, err := os.Open(a.Path(fixed))
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec ArchiveRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		assert.Equal(t, "d", rec.DeliveryID)
		assert.JSONEq(t, `{"actions":[]}`, string(rec.Body))
		lines++
	}
	assert.Equal(t, 20, lines)
}

func TestArchive_FileFollowsDeliveryIDTime(t *testing.T) {
	a, err := NewArchive(t.TempDir())
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2030, 1, 2, 0, 0, 5, 0, time.UTC) }

	minted := types.NewDeliveryID()
	require.NoError(t, a.Append(minted, []byte(`{}`)))
	require.NoError(t, a.Append("tracker-delivery", []byte(`{}`)))

	idFile, err := os.ReadFile(a.Path(types.DeliveryIDTime(minted)))
	require.NoError(t, err)
	assert.Contains(t, string(idFile), minted)
	assert.NotContains(t, string(idFile), "tracker-delivery")

	receivedFile, err := os.ReadFile(a.Path(a.now()))
	require.NoError(t, err)
	assert.Contains(t, string(receivedFile), "tracker-delivery")
}

func TestArchive_Disabled(t *testing.T) {
	a, err := NewArchive("")
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.NoError(t, a.Append("d", []byte("{}")))
}

func TestWebhook_ArchivesDelivery(t *testing.T) {
	a, err := NewArchive(t.TempDir())
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	newTestRouter(t, &recordingDispatcher{}, a, 0).ServeHTTP(rr, signedRequest("/", storyDelivery))
	require.Equal(t, http.StatusOK, rr.Code)

	data, err := os.ReadFile(a.Path(types.DeliveryIDTime("0190b8e4-0000-7000-8000-000000000001")))
	require.NoError(t, err)
	assert.Contains(t, string(data), "0190b8e4-0000-7000-8000-000000000001")
}
