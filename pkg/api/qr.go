package api

import (
	"net/http"
	"net/url"
	"strconv"

	qrcode "github.com/skip2/go-qrcode"
)

// handleShareQR renders a QR code PNG for a map share link so the current
// view can be opened on a phone. Only same-host targets are encoded: this
// endpoint must not become an open QR generator for arbitrary URLs.
func (h *Handler) handleShareQR(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		target = "http://" + r.Host + "/"
	}

	u, err := url.Parse(target)
	if err != nil || (u.Host != "" && u.Host != r.Host) {
		http.Error(w, "target must stay on this host", http.StatusBadRequest)
		return
	}

	size := 256
	if s, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && s >= 64 && s <= 1024 {
		size = s
	}

	png, err := qrcode.Encode(target, qrcode.Medium, size)
	if err != nil {
		http.Error(w, "encode qr", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(png)
}
