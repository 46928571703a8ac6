package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botsmith/botsmith/internal/bot"
	"github.com/botsmith/botsmith/internal/gateway"
	"github.com/botsmith/botsmith/internal/health"
	"github.com/botsmith/botsmith/internal/integrations"
	"github.com/botsmith/botsmith/internal/models"
	"github.com/botsmith/botsmith/internal/scheduler"
	"github.com/botsmith/botsmith/internal/store"
	"github.com/botsmith/botsmith/pkg/logger"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open("sqlite", filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := logger.Default()
	guard := store.NewSelfWriteGuard()
	sup := bot.NewSupervisor(st, guard, gateway.NewDialer(), integrations.NewRegistry(log), health.NewAggregator(), log)
	sched := scheduler.New(st, guard, log)
	t.Cleanup(sched.Stop)

	return NewServer(st, sup, sched, health.NewAggregator(), log), st
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func seedAPIBot(t *testing.T, st *store.Store) *models.BotConfig {
	t.Helper()
	saved, err := st.Create(&models.BotConfig{
		Name:  "apibot",
		Token: "real-secret-token",
	})
	require.NoError(t, err)
	return saved
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), `"runningBots":0`)
}

func TestCreateBotMasksToken(t *testing.T) {
	s, st := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/bots", gin.H{"name": "fresh", "token": "super-secret"})
	require.Equal(t, http.StatusCreated, w.Code)

	var got models.BotConfig
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &got))
	assert.Equal(t, "fresh", got.Name)
	assert.Equal(t, "********", got.Token)
	assert.NotEmpty(t, got.ID)

	stored, err := st.Read(got.ID)
	require.NoError(t, err)
	assert.Equal(t, "super-secret", stored.Token)
}

func TestGetBotNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/bots/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, decodeEnvelope(t, w).Success)
}

func TestUpdateBotKeepsStoredTokenWhenMasked(t *testing.T) {
	s, st := newTestServer(t)
	saved := seedAPIBot(t, st)

	w := doJSON(t, s, http.MethodPut, "/api/bots/"+saved.ID, gin.H{
		"name":  "renamed",
		"token": "********",
	})
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := st.Read(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.Name)
	assert.Equal(t, "real-secret-token", stored.Token)
}

func TestUpdateBotReplacesToken(t *testing.T) {
	s, st := newTestServer(t)
	saved := seedAPIBot(t, st)

	w := doJSON(t, s, http.MethodPut, "/api/bots/"+saved.ID, gin.H{
		"name":  "apibot",
		"token": "brand-new-token",
	})
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := st.Read(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "brand-new-token", stored.Token)
}

func TestDeleteBot(t *testing.T) {
	s, st := newTestServer(t)
	saved := seedAPIBot(t, st)

	w := doJSON(t, s, http.MethodDelete, "/api/bots/"+saved.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, err := st.Read(saved.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	w = doJSON(t, s, http.MethodDelete, "/api/bots/"+saved.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartWithoutTokenIsBadRequest(t *testing.T) {
	s, st := newTestServer(t)
	saved, err := st.Create(&models.BotConfig{Name: "tokenless"})
	require.NoError(t, err)

	w := doJSON(t, s, http.MethodPost, "/api/bots/"+saved.ID+"/start", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeEnvelope(t, w).Error, "token")
}

func TestStopNotRunningConflicts(t *testing.T) {
	s, st := newTestServer(t)
	saved := seedAPIBot(t, st)

	w := doJSON(t, s, http.MethodPost, "/api/bots/"+saved.ID+"/stop", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBotLogs(t *testing.T) {
	s, st := newTestServer(t)
	saved := seedAPIBot(t, st)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.AppendLog(saved.ID, fmt.Sprintf("line %d", i)))
	}

	w := doJSON(t, s, http.MethodGet, "/api/bots/"+saved.ID+"/logs?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var lines []string
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &lines))
	assert.Len(t, lines, 2)
}

func TestAddCommand(t *testing.T) {
	s, st := newTestServer(t)
	saved := seedAPIBot(t, st)

	w := doJSON(t, s, http.MethodPost, "/api/bots/"+saved.ID+"/commands", gin.H{
		"name":            "ping",
		"type":            "prefix",
		"responseType":    "text",
		"responseContent": "pong",
	})
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := st.Read(saved.ID)
	require.NoError(t, err)
	require.Len(t, stored.Commands, 1)
	assert.NotEmpty(t, stored.Commands[0].ID)

	// The same name again is rejected.
	w = doJSON(t, s, http.MethodPost, "/api/bots/"+saved.ID+"/commands", gin.H{
		"name": "PING", "type": "prefix", "responseType": "text",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeEnvelope(t, w).Error, "already exists")
}

func TestAddCommandRequiresName(t *testing.T) {
	s, st := newTestServer(t)
	saved := seedAPIBot(t, st)

	w := doJSON(t, s, http.MethodPost, "/api/bots/"+saved.ID+"/commands", gin.H{
		"type": "prefix", "responseType": "text",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateAndDeleteCommand(t *testing.T) {
	s, st := newTestServer(t)
	saved := seedAPIBot(t, st)
	saved.Commands = []models.Command{{ID: "c1", Name: "ping", Type: models.CommandPrefix, ResponseType: models.RespondText, ResponseContent: "pong"}}
	_, err := st.Write(saved.ID, saved)
	require.NoError(t, err)

	w := doJSON(t, s, http.MethodPut, "/api/bots/"+saved.ID+"/commands/c1", gin.H{
		"name": "ping", "type": "both", "responseType": "text", "responseContent": "pong v2",
	})
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := st.Read(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "pong v2", stored.Commands[0].ResponseContent)
	assert.Equal(t, "c1", stored.Commands[0].ID)

	w = doJSON(t, s, http.MethodDelete, "/api/bots/"+saved.ID+"/commands/c1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	stored, err = st.Read(saved.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Commands)

	w = doJSON(t, s, http.MethodDelete, "/api/bots/"+saved.ID+"/commands/c1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddEventRejectsUnknownType(t *testing.T) {
	s, st := newTestServer(t)
	saved := seedAPIBot(t, st)

	w := doJSON(t, s, http.MethodPost, "/api/bots/"+saved.ID+"/events", gin.H{
		"eventType": "guildBoosted",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeEnvelope(t, w).Error, "unknown event type")

	w = doJSON(t, s, http.MethodPost, "/api/bots/"+saved.ID+"/events", gin.H{
		"eventType": "guildMemberAdd",
		"action":    gin.H{"type": "sendMessage", "message": "welcome"},
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAddIntegrationOnePerService(t *testing.T) {
	s, st := newTestServer(t)
	saved := seedAPIBot(t, st)

	body := gin.H{"service": "plex", "config": gin.H{"apiUrl": "http://plex", "apiKey": "k"}}
	w := doJSON(t, s, http.MethodPost, "/api/bots/"+saved.ID+"/integrations", body)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/bots/"+saved.ID+"/integrations", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeEnvelope(t, w).Error, "already exists")
}

func TestAddIntegrationRequiresService(t *testing.T) {
	s, st := newTestServer(t)
	saved := seedAPIBot(t, st)

	w := doJSON(t, s, http.MethodPost, "/api/bots/"+saved.ID+"/integrations", gin.H{
		"config": gin.H{"apiUrl": "http://plex"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTestIntegrationRequiresRunningBot(t *testing.T) {
	s, st := newTestServer(t)
	saved := seedAPIBot(t, st)

	w := doJSON(t, s, http.MethodPost, "/api/bots/"+saved.ID+"/integrations/i1/test", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeEnvelope(t, w).Error, "must be running")
}
