package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/john/chatvoice/internal/filter"
	"github.com/john/chatvoice/internal/message"
	"github.com/john/chatvoice/internal/pipeline"
	"github.com/john/chatvoice/internal/source"
	"github.com/john/chatvoice/internal/speech"
	"github.com/john/chatvoice/internal/timer"
	"github.com/labstack/echo/v4"
)

const defaultChatLimit = 100

type statusResponse struct {
	pipeline.Status
	Settings pipeline.Settings `json:"settings"`
}

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:   s.deps.Session.Status(),
		Settings: s.deps.Session.Settings(),
	})
}

func (s *Server) chat(c echo.Context) error {
	limit := defaultChatLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fail(c, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
		}
		limit = n
	}
	msgs := s.deps.Session.ChatLog().Recent(limit)
	if msgs == nil {
		msgs = []message.Message{}
	}
	return c.JSON(http.StatusOK, msgs)
}

// playbackUpdate is a partial settings change; nil fields are left alone
type playbackUpdate struct {
	Playing       *bool            `json:"playing"`
	Muted         *bool            `json:"muted"`
	ReadUsername  *bool            `json:"readUsername"`
	Engine        *pipeline.Engine `json:"engine"`
	Volume        *float64         `json:"volume"`
	Rate          *float64         `json:"rate"`
	Pitch         *float64         `json:"pitch"`
	KickVoice     *string          `json:"kickVoice"`
	TwitchVoice   *string          `json:"twitchVoice"`
	TimerVoice    *string          `json:"timerVoice"`
	RemoteVoiceID *string          `json:"remoteVoiceId"`
	RemoteAPIKey  *string          `json:"remoteApiKey"`
}

func (u playbackUpdate) apply(st *pipeline.Settings) {
	setBool(&st.Playing, u.Playing)
	setBool(&st.Muted, u.Muted)
	setBool(&st.ReadUsername, u.ReadUsername)
	if u.Engine != nil {
		st.Engine = *u.Engine
	}
	setFloat(&st.Volume, u.Volume)
	setFloat(&st.Rate, u.Rate)
	setFloat(&st.Pitch, u.Pitch)
	setString(&st.KickVoice, u.KickVoice)
	setString(&st.TwitchVoice, u.TwitchVoice)
	setString(&st.TimerVoice, u.TimerVoice)
	setString(&st.RemoteVoiceID, u.RemoteVoiceID)
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

type playbackResponse struct {
	pipeline.Settings
	RemoteKeySet bool   `json:"remoteKeySet"`
	NowSpeaking  string `json:"nowSpeaking"`
}

func (s *Server) playbackView() playbackResponse {
	st := s.deps.Session.Status()
	return playbackResponse{
		Settings:     s.deps.Session.Settings(),
		RemoteKeySet: st.RemoteKeySet,
		NowSpeaking:  st.NowSpeaking,
	}
}

func (s *Server) getPlayback(c echo.Context) error {
	return c.JSON(http.StatusOK, s.playbackView())
}

func (s *Server) putPlayback(c echo.Context) error {
	var req playbackUpdate
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	if _, err := s.deps.Session.UpdateSettings(req.apply); err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	if req.RemoteAPIKey != nil {
		s.deps.Session.SetRemoteAPIKey(*req.RemoteAPIKey)
	}
	return c.JSON(http.StatusOK, s.playbackView())
}

func (s *Server) enableAudio(c echo.Context) error {
	s.deps.Session.EnableAudio()
	return c.JSON(http.StatusOK, s.playbackView())
}

func (s *Server) testSpeech(c echo.Context) error {
	msg, err := s.deps.Session.TestSpeech()
	if err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	return c.JSON(http.StatusAccepted, msg)
}

type keywordsResponse struct {
	Enabled bool          `json:"enabled"`
	Rules   []filter.Rule `json:"rules"`
}

func (s *Server) keywordsView() keywordsResponse {
	f := s.deps.Session.Filter()
	rules := f.Rules()
	if rules == nil {
		rules = []filter.Rule{}
	}
	return keywordsResponse{Enabled: f.Enabled(), Rules: rules}
}

func (s *Server) listKeywords(c echo.Context) error {
	return c.JSON(http.StatusOK, s.keywordsView())
}

type keywordRequest struct {
	Text          string `json:"text"`
	CaseSensitive *bool  `json:"case_sensitive"`
}

func (s *Server) addKeyword(c echo.Context) error {
	var req keywordRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	rule, err := s.deps.Session.Filter().Add(req.Text, req.CaseSensitive != nil && *req.CaseSensitive)
	if err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	return c.JSON(http.StatusCreated, rule)
}

func (s *Server) updateKeyword(c echo.Context) error {
	var req keywordRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	if req.CaseSensitive == nil {
		return fail(c, http.StatusBadRequest, errors.New("case_sensitive is required"))
	}
	rule, err := s.deps.Session.Filter().SetCaseSensitive(c.Param("id"), *req.CaseSensitive)
	if errors.Is(err, filter.ErrKeywordNotFound) {
		return fail(c, http.StatusNotFound, err)
	}
	if err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	return c.JSON(http.StatusOK, rule)
}

func (s *Server) deleteKeyword(c echo.Context) error {
	if err := s.deps.Session.Filter().Remove(c.Param("id")); err != nil {
		return fail(c, http.StatusNotFound, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) setKeywordsEnabled(c echo.Context) error {
	var req enabledRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	if req.Enabled == nil {
		return fail(c, http.StatusBadRequest, errors.New("enabled is required"))
	}
	s.deps.Session.Filter().SetEnabled(*req.Enabled)
	return c.JSON(http.StatusOK, s.keywordsView())
}

// timerView reports the interval in whole seconds
type timerView struct {
	ID              string     `json:"id"`
	Message         string     `json:"message"`
	IntervalSeconds int        `json:"intervalSeconds"`
	Enabled         bool       `json:"enabled"`
	LastFiredAt     *time.Time `json:"lastFiredAt"`
}

func newTimerView(r timer.Rule) timerView {
	v := timerView{
		ID:              r.ID,
		Message:         r.Message,
		IntervalSeconds: int(r.Interval / time.Second),
		Enabled:         r.Enabled,
	}
	if !r.LastFiredAt.IsZero() {
		last := r.LastFiredAt
		v.LastFiredAt = &last
	}
	return v
}

func (s *Server) listTimers(c echo.Context) error {
	rules := s.deps.Session.Timers().Rules()
	out := make([]timerView, 0, len(rules))
	for _, r := range rules {
		out = append(out, newTimerView(r))
	}
	return c.JSON(http.StatusOK, out)
}

type timerRequest struct {
	Message         string `json:"message"`
	IntervalSeconds int    `json:"intervalSeconds"`
	Enabled         *bool  `json:"enabled"`
}

func (s *Server) addTimer(c echo.Context) error {
	var req timerRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	rule, err := s.deps.Session.Timers().Add(req.Message, req.IntervalSeconds)
	if err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	if req.Enabled != nil && !*req.Enabled {
		if rule, err = s.deps.Session.Timers().SetEnabled(rule.ID, false); err != nil {
			return fail(c, http.StatusInternalServerError, err)
		}
	}
	return c.JSON(http.StatusCreated, newTimerView(rule))
}

func (s *Server) updateTimer(c echo.Context) error {
	var req timerRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	if req.Enabled == nil {
		return fail(c, http.StatusBadRequest, errors.New("enabled is required"))
	}
	rule, err := s.deps.Session.Timers().SetEnabled(c.Param("id"), *req.Enabled)
	if err != nil {
		return fail(c, http.StatusNotFound, err)
	}
	return c.JSON(http.StatusOK, newTimerView(rule))
}

func (s *Server) deleteTimer(c echo.Context) error {
	if err := s.deps.Session.Timers().Remove(c.Param("id")); err != nil {
		return fail(c, http.StatusNotFound, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) fireTimer(c echo.Context) error {
	msg, err := s.deps.Session.Timers().Fire(c.Param("id"))
	if err != nil {
		return fail(c, http.StatusNotFound, err)
	}
	s.deps.Session.Ingest(msg)
	return c.JSON(http.StatusAccepted, msg)
}

type connectionView struct {
	Enabled    bool            `json:"enabled"`
	Channel    string          `json:"channel"`
	ChatroomID int             `json:"chatroomId,omitempty"`
	Status     source.Snapshot `json:"status"`
}

type connectionsResponse struct {
	Kick   connectionView `json:"kick"`
	Twitch connectionView `json:"twitch"`
}

func (s *Server) connectionsView() connectionsResponse {
	statuses := s.deps.Session.Status().Connections
	ks := s.deps.Session.KickSettings()
	ts := s.deps.Session.TwitchSettings()
	return connectionsResponse{
		Kick:   connectionView{Enabled: ks.Enabled, Channel: ks.Channel, ChatroomID: ks.ChatroomID, Status: statuses["kick"]},
		Twitch: connectionView{Enabled: ts.Enabled, Channel: ts.Channel, Status: statuses["twitch"]},
	}
}

func (s *Server) connections(c echo.Context) error {
	return c.JSON(http.StatusOK, s.connectionsView())
}

func (s *Server) putKick(c echo.Context) error {
	var req pipeline.KickSettings
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	if err := s.deps.Session.ConfigureKick(req); err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	return c.JSON(http.StatusOK, s.connectionsView())
}

type twitchRequest struct {
	Enabled bool   `json:"enabled"`
	Channel string `json:"channel"`
	Token   string `json:"token"`
}

func (s *Server) putTwitch(c echo.Context) error {
	var req twitchRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	err := s.deps.Session.ConfigureTwitch(pipeline.TwitchSettings{
		Enabled: req.Enabled,
		Channel: req.Channel,
		Token:   req.Token,
	})
	if err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	return c.JSON(http.StatusOK, s.connectionsView())
}

func (s *Server) localVoices(c echo.Context) error {
	voices := s.deps.Session.Local().Voices()
	if voices == nil {
		voices = []string{}
	}
	return c.JSON(http.StatusOK, map[string][]string{"voices": voices})
}

func (s *Server) remoteVoices(c echo.Context) error {
	remote := s.deps.Session.Remote()
	if remote == nil {
		return fail(c, http.StatusBadRequest, speech.ErrMissingCredentials)
	}
	voices, err := remote.ListVoices(c.Request().Context())
	if errors.Is(err, speech.ErrMissingCredentials) {
		return fail(c, http.StatusBadRequest, err)
	}
	if err != nil {
		log.Printf("Remote voice list failed: %v", err)
		return fail(c, http.StatusBadGateway, err)
	}
	return c.JSON(http.StatusOK, map[string][]speech.RemoteVoice{"voices": voices})
}

const remoteTestTimeout = 60 * time.Second

type resultResponse struct {
	Message string `json:"message"`
}

// testRemoteVoice plays the remote test line and reports whether it worked
func (s *Server) testRemoteVoice(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), remoteTestTimeout)
	defer cancel()

	err := s.deps.Session.TestRemoteSpeech(ctx)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, resultResponse{Message: "Speechify test played successfully."})
	case errors.Is(err, pipeline.ErrAudioDisabled), errors.Is(err, speech.ErrMissingCredentials):
		return fail(c, http.StatusBadRequest, err)
	default:
		return fail(c, http.StatusBadGateway, fmt.Errorf("speechify test failed, check the API key and voice id: %w", err))
	}
}

// kickChannel proxies the Kick channel lookup for browsers blocked by CORS
func (s *Server) kickChannel(c echo.Context) error {
	body, err := s.deps.Kick.Fetch(c.Request().Context(), c.Param("name"))
	if err != nil {
		log.Printf("Kick API proxy error: %v", err)
		return fail(c, http.StatusBadGateway, fmt.Errorf("kick lookup failed: %w", err))
	}
	return c.JSONBlob(http.StatusOK, body)
}
