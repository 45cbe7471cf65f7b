// Package webhooks receives event deliveries from the identity provider.
// The provider pushes user and membership changes as they happen, so the
// session cache can be invalidated immediately instead of waiting for the
// staleness threshold or the next reconciliation pass.
//
// Deliveries are signed Svix-style: the signed content is
// "{webhook-id}.{webhook-timestamp}.{body}", the signature is a base64
// HMAC-SHA256 of it under the configured signing secret, and the timestamp
// is rejected outside a five minute window. The signature is verified
// before the payload is parsed.
package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/compliance-hub/compliance-hub/internal/db/models"
	"github.com/compliance-hub/compliance-hub/internal/db/repositories"
	"github.com/compliance-hub/compliance-hub/internal/telemetry"
)

// timestampTolerance bounds the accepted clock skew on deliveries; older
// ones could be replays.
const timestampTolerance = 5 * time.Minute

// userStore is the slice of the user repository the webhook handlers need.
type userStore interface {
	GetUserByIdentityID(ctx context.Context, identityID string) (*models.User, error)
	UpdateUser(ctx context.Context, userID string, patch repositories.UserPatch) error
}

// SessionInvalidator drops a user's cached session snapshot.
type SessionInvalidator interface {
	InvalidateSessionCache(ctx context.Context, identityID string) error
}

// Handlers processes identity provider webhook deliveries.
type Handlers struct {
	secret string
	users  userStore
	cache  SessionInvalidator
	now    func() time.Time
}

func NewHandlers(signingSecret string, users userStore, cache SessionInvalidator) *Handlers {
	return &Handlers{
		secret: signingSecret,
		users:  users,
		cache:  cache,
		now:    time.Now,
	}
}

// event is the provider's delivery envelope. Data is kept raw because its
// shape depends on the event type.
type event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type userEventData struct {
	ID string `json:"id"`
}

type membershipEventData struct {
	PublicUserData struct {
		UserID string `json:"user_id"`
	} `json:"public_user_data"`
}

// @Summary      Receive identity provider webhook
// @Description  Receives signed event deliveries from the identity provider. The Svix-style
// @Description  signature (webhook-id, webhook-timestamp, webhook-signature headers) is
// @Description  verified against the configured signing secret before the payload is parsed.
// @Description  User and membership events invalidate the affected user's session cache;
// @Description  user deletion additionally deactivates the local record. Unrecognized event
// @Description  types are acknowledged and ignored.
// @Tags         Webhooks
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "received"
// @Failure      400  {object}  map[string]interface{}  "Malformed payload"
// @Failure      401  {object}  map[string]interface{}  "Signature invalid or delivery too old"
// @Failure      503  {object}  map[string]interface{}  "Signing secret not configured"
// @Router       /v1/webhooks/identity [post]
// HandleEvent verifies and dispatches one delivery.
func (h *Handlers) HandleEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.secret == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "webhook signing secret not configured",
			})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read payload"})
			return
		}

		if err := h.verifySignature(c, body); err != nil {
			telemetry.IdentityWebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook signature"})
			return
		}

		var ev event
		if err := json.Unmarshal(body, &ev); err != nil || ev.Type == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event payload"})
			return
		}

		identityID, deactivate, err := h.resolveEvent(&ev)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event payload"})
			return
		}
		if identityID == "" {
			// Event types this service has no use for still get a 2xx so
			// the provider does not retry them.
			telemetry.IdentityWebhookEventsTotal.WithLabelValues(ev.Type, "ignored").Inc()
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}

		ctx := c.Request.Context()
		if deactivate {
			if err := h.deactivateUser(ctx, identityID); err != nil {
				telemetry.IdentityWebhookEventsTotal.WithLabelValues(ev.Type, "error").Inc()
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
				return
			}
		}

		if err := h.cache.InvalidateSessionCache(ctx, identityID); err != nil {
			// The snapshot self-heals at the staleness threshold; log and
			// acknowledge so the provider does not redeliver.
			slog.Warn("webhook-triggered session invalidation failed",
				"event_type", ev.Type,
				"identity_id", identityID,
				"error", err)
		}

		telemetry.IdentityWebhookEventsTotal.WithLabelValues(ev.Type, "processed").Inc()
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

// resolveEvent maps a delivery to the identity whose session it affects.
// A zero identity means the event type is not ours to handle.
func (h *Handlers) resolveEvent(ev *event) (identityID string, deactivate bool, err error) {
	switch ev.Type {
	case "user.updated", "user.deleted":
		var data userEventData
		if err := json.Unmarshal(ev.Data, &data); err != nil || data.ID == "" {
			return "", false, fmt.Errorf("user event without id")
		}
		return data.ID, ev.Type == "user.deleted", nil
	case "organizationMembership.created",
		"organizationMembership.updated",
		"organizationMembership.deleted":
		var data membershipEventData
		if err := json.Unmarshal(ev.Data, &data); err != nil || data.PublicUserData.UserID == "" {
			return "", false, fmt.Errorf("membership event without user id")
		}
		return data.PublicUserData.UserID, false, nil
	default:
		return "", false, nil
	}
}

// deactivateUser marks the local record inactive. A user the record store
// never saw needs nothing.
func (h *Handlers) deactivateUser(ctx context.Context, identityID string) error {
	user, err := h.users.GetUserByIdentityID(ctx, identityID)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}
	active := false
	return h.users.UpdateUser(ctx, user.ID, repositories.UserPatch{Active: &active})
}

// verifySignature checks the Svix-style delivery headers against the raw
// body. The signature header may carry several space-separated candidates
// ("v1,<base64>"); any match passes.
func (h *Handlers) verifySignature(c *gin.Context, body []byte) error {
	id := c.GetHeader("webhook-id")
	timestamp := c.GetHeader("webhook-timestamp")
	sigHeader := c.GetHeader("webhook-signature")
	if id == "" || timestamp == "" || sigHeader == "" {
		return fmt.Errorf("missing signature headers")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed timestamp")
	}
	age := h.now().Sub(time.Unix(ts, 0))
	if age > timestampTolerance || age < -timestampTolerance {
		return fmt.Errorf("timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, signingKey(h.secret))
	fmt.Fprintf(mac, "%s.%s.", id, timestamp)
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, candidate := range strings.Fields(sigHeader) {
		version, sig, found := strings.Cut(candidate, ",")
		if !found || version != "v1" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1 {
			return nil
		}
	}
	return fmt.Errorf("no matching signature")
}

// signingKey decodes the provider's secret format: an optional "whsec_"
// prefix on a base64 key. A secret that does not decode is used as raw
// bytes so locally-issued plain secrets also work.
func signingKey(secret string) []byte {
	trimmed := strings.TrimPrefix(secret, "whsec_")
	if key, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return key
	}
	return []byte(trimmed)
}
