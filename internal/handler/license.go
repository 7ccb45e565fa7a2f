package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aegisx/aegisx/internal/credential"
	"github.com/aegisx/aegisx/internal/license"
	"github.com/aegisx/aegisx/internal/model"
)

// LicenseHandler reports the locally stored license.
type LicenseHandler struct {
	validator *license.Validator
}

// NewLicenseHandler creates a new LicenseHandler.
func NewLicenseHandler(v *license.Validator) *LicenseHandler {
	return &LicenseHandler{validator: v}
}

type licenseResponse struct {
	license.Result
	Reason      string `json:"reason,omitempty"`
	Message     string `json:"message,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}

// GetLicense returns the current license status and entitlement. A missing
// or invalid license is reported in the body, not as an HTTP error.
// GET /api/v1/license
func (h *LicenseHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	res := h.validator.Validate(r.Context())
	resp := licenseResponse{Result: res}
	if res.Err != nil {
		detail := credentialDetail(res.Err)
		resp.Reason, resp.Message, resp.Remediation = detail.Reason, detail.Message, detail.Remediation
	}
	writeJSON(w, http.StatusOK, resp)
}

type featureResponse struct {
	license.FeatureCheck
	Reason      string `json:"reason,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}

// CheckFeature reports whether the license grants a feature. Denials return
// 403 with the reason and remediation.
// GET /api/v1/license/features/{feature}
func (h *LicenseHandler) CheckFeature(w http.ResponseWriter, r *http.Request) {
	fc := h.validator.CheckFeature(r.Context(), chi.URLParam(r, "feature"))
	if fc.Allowed {
		writeJSON(w, http.StatusOK, featureResponse{FeatureCheck: fc})
		return
	}
	detail := credentialDetail(fc.Err)
	writeJSON(w, http.StatusForbidden, featureResponse{
		FeatureCheck: fc,
		Reason:       detail.Reason,
		Remediation:  detail.Remediation,
	})
}

func credentialDetail(err error) model.ErrorDetail {
	var d model.ErrorDetail
	if err == nil {
		return d
	}
	d.Reason = credential.Code(err)
	d.Message = err.Error()
	d.Remediation = credential.Remediation(err)
	return d
}
