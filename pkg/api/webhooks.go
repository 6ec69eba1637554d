package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/railwatch/railwatch/pkg/notifier"
)

// Webhooks are acknowledged within the 3s deadline; the actual work runs
// in a background task with its own budget.
const backgroundBudget = 30 * time.Second

// handleInteractive receives button presses. Malformed or missing
// payloads are a 400; valid ones are acknowledged immediately and
// dispatched asynchronously.
func (s *Server) handleInteractive(c *gin.Context) {
	payload := c.PostForm("payload")
	if payload == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing payload"})
		return
	}

	var callback slack.InteractionCallback
	if err := json.Unmarshal([]byte(payload), &callback); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}
	if callback.Type != slack.InteractionTypeBlockActions || len(callback.ActionCallback.BlockActions) == 0 {
		c.Status(http.StatusOK)
		return
	}

	action := callback.ActionCallback.BlockActions[0]
	actionID, incidentID, actionName, ok := notifier.ParseButtonValue(action.Value)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed action value"})
		return
	}

	threadTS := callback.Message.ThreadTimestamp
	if threadTS == "" {
		threadTS = callback.Message.Timestamp
	}
	in := notifier.Interaction{
		ActionID:   actionID,
		IncidentID: incidentID,
		ActionName: actionName,
		UserID:     callback.User.ID,
		ChannelID:  callback.Channel.ID,
		ThreadTS:   threadTS,
	}

	c.Status(http.StatusOK)

	if s.deps.Interactions == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundBudget)
		defer cancel()
		if err := s.deps.Interactions.Handle(ctx, in); err != nil {
			s.logger.Error("Interactive dispatch failed",
				"action_id", in.ActionID, "incident_id", in.IncidentID, "error", err)
		}
	}()
}

// handleSlash receives slash commands, answers with an ephemeral
// placeholder, and posts the real reply to the response URL.
func (s *Server) handleSlash(c *gin.Context) {
	text := c.PostForm("text")
	userID := c.PostForm("user_id")
	channelID := c.PostForm("channel_id")
	responseURL := c.PostForm("response_url")
	if userID == "" || channelID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id or channel_id"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"response_type": "ephemeral",
		"text":          "Processing your request...",
	})

	if s.deps.Conversations == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundBudget)
		defer cancel()
		reply, err := s.deps.Conversations.HandleSlashCommand(ctx, channelID, userID, text)
		if err != nil {
			s.logger.Error("Slash command failed", "user_id", userID, "error", err)
			reply = "Something went wrong handling that command."
		}
		if responseURL != "" {
			s.postResponse(ctx, responseURL, reply)
		}
	}()
}

// handleEvents receives the events API callbacks: the URL verification
// challenge and thread message replies.
func (s *Server) handleEvents(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed challenge"})
			return
		}
		c.String(http.StatusOK, challenge.Challenge)

	case slackevents.CallbackEvent:
		c.Status(http.StatusOK)
		msg, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
		if !ok || msg.BotID != "" || msg.SubType != "" || msg.ThreadTimeStamp == "" {
			return
		}
		s.dispatchThreadMessage(msg)

	default:
		c.Status(http.StatusOK)
	}
}

func (s *Server) dispatchThreadMessage(msg *slackevents.MessageEvent) {
	if s.deps.Conversations == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundBudget)
		defer cancel()
		reply, err := s.deps.Conversations.HandleThreadMessage(ctx, msg.Channel, msg.ThreadTimeStamp, msg.User, msg.Text)
		if err != nil {
			s.logger.Error("Thread message failed", "channel", msg.Channel, "error", err)
			return
		}
		if s.deps.Notifier != nil {
			if err := s.deps.Notifier.PostThreadReply(ctx, msg.ThreadTimeStamp, reply); err != nil {
				s.logger.Warn("Could not post thread reply", "error", err)
			}
		}
	}()
}

// postResponse delivers a delayed slash reply to the response URL.
func (s *Server) postResponse(ctx context.Context, url, text string) {
	payload, _ := json.Marshal(map[string]string{
		"response_type": "ephemeral",
		"text":          text,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		s.logger.Warn("Could not deliver slash response", "error", err)
		return
	}
	_ = resp.Body.Close()
}
