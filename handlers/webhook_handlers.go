package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pagelens/api/attribution"
	"pagelens/api/membership"
	"pagelens/api/models"
	"pagelens/api/utils"
)

type WebhookHandlers struct {
	Attribution *attribution.Engine
	Analyses    AnalysisGetter
	ThriveCart  *membership.ThriveCart
}

func NewWebhookHandlers(engine *attribution.Engine, analyses AnalysisGetter, tc *membership.ThriveCart) *WebhookHandlers {
	return &WebhookHandlers{Attribution: engine, Analyses: analyses, ThriveCart: tc}
}

// Convert records a conversion for the analysis and attributes it to a
// tracked session. Re-deliveries of the same conversion_id update in place.
func (h *WebhookHandlers) Convert(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.ConversionWebhook
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if req.Revenue < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "revenue must not be negative"})
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	if _, err := h.Analyses.GetAnalysis(ctx, id); err != nil {
		respondError(c, err, "load analysis")
		return
	}

	conv := &models.Conversion{
		ConversionID:  strings.TrimSpace(req.ConversionID),
		AnalysisID:    id,
		Email:         utils.NormalizeEmail(req.Email),
		OrderID:       strings.TrimSpace(req.OrderID),
		SessionID:     strings.TrimSpace(req.SessionID),
		Fingerprint:   strings.TrimSpace(req.Fingerprint),
		UserID:        strings.TrimSpace(req.UserID),
		Revenue:       req.Revenue,
		Currency:      strings.ToUpper(strings.TrimSpace(req.Currency)),
		CustomerName:  req.CustomerName,
		ProductName:   req.ProductName,
		WebhookSource: req.WebhookSource,
	}
	inserted, err := h.Attribution.Record(ctx, conv)
	if err != nil {
		respondError(c, err, "record conversion")
		return
	}
	log.Printf("Conversion %s for analysis %d attributed by %s (confidence %d)", conv.ConversionID, id, conv.AttributionMethod, conv.Confidence)

	status := http.StatusOK
	if inserted {
		status = http.StatusCreated
	}
	c.JSON(status, conv)
}

type thriveCartPayload struct {
	Event           string `json:"event" form:"event"`
	Secret          string `json:"thrivecart_secret" form:"thrivecart_secret"`
	BaseProductName string `json:"base_product_name" form:"base_product_name"`
	CustomerID      string `json:"customer_id" form:"customer_id"`
	Customer        struct {
		Email     string `json:"email"`
		Name      string `json:"name"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"customer"`
	CustomerIdentifier string `json:"customer_identifier"`
	PortalURL          string `json:"customer_portal_url" form:"customer_portal_url"`
}

// parseThriveCart accepts the form encoding ThriveCart posts by default
// (customer[email] style keys) as well as JSON.
func parseThriveCart(c *gin.Context) (membership.ThriveCartEvent, error) {
	var p thriveCartPayload
	if strings.HasPrefix(c.ContentType(), "application/json") {
		if err := c.ShouldBindJSON(&p); err != nil {
			return membership.ThriveCartEvent{}, err
		}
	} else {
		if err := c.ShouldBind(&p); err != nil {
			return membership.ThriveCartEvent{}, err
		}
		p.Customer.Email = c.PostForm("customer[email]")
		p.Customer.Name = c.PostForm("customer[name]")
		p.Customer.FirstName = c.PostForm("customer[first_name]")
		p.Customer.LastName = c.PostForm("customer[last_name]")
	}
	name := strings.TrimSpace(p.Customer.Name)
	if name == "" {
		name = strings.TrimSpace(p.Customer.FirstName + " " + p.Customer.LastName)
	}
	customerID := p.CustomerID
	if customerID == "" {
		customerID = p.CustomerIdentifier
	}
	return membership.ThriveCartEvent{
		Event:      p.Event,
		Secret:     p.Secret,
		Email:      p.Customer.Email,
		Name:       name,
		CustomerID: customerID,
		Product:    p.BaseProductName,
		PortalURL:  p.PortalURL,
	}, nil
}

func (h *WebhookHandlers) ThriveCartWebhook(c *gin.Context) {
	// ThriveCart checks the URL with a HEAD when the webhook is saved.
	if c.Request.Method == http.MethodHead {
		c.Status(http.StatusOK)
		return
	}
	ev, err := parseThriveCart(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook payload", "details": err.Error()})
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	user, err := h.ThriveCart.Apply(ctx, ev)
	switch {
	case errors.Is(err, membership.ErrBadSecret):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid secret"})
	case errors.Is(err, membership.ErrUnknownEvent):
		c.JSON(http.StatusOK, gin.H{"message": "Event ignored"})
	case errors.Is(err, membership.ErrMissingEmail):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		respondError(c, err, "apply subscription change")
	default:
		c.JSON(http.StatusOK, gin.H{"user_id": user.ID, "plan": user.Plan, "status": user.SubscriptionStatus})
	}
}
