package tracker

import (
	"net/url"

	"pagelens/api/models"
)

func applyUTM(req *models.SessionRequest, landingURL string) {
	u, err := url.Parse(landingURL)
	if err != nil {
		return
	}
	q := u.Query()
	req.UTMSource = q.Get("utm_source")
	req.UTMMedium = q.Get("utm_medium")
	req.UTMCampaign = q.Get("utm_campaign")
	req.UTMTerm = q.Get("utm_term")
	req.UTMContent = q.Get("utm_content")
}
