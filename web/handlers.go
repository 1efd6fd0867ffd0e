package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"photoart/acquire"
	"photoart/datauri"
	"photoart/gateway"
	"photoart/providers"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/hlog"
)

type transformRequest struct {
	Image string `json:"image" validate:"required"`
	Style string `json:"style" validate:"required"`
}

type transformResponse struct {
	TransformedImage string `json:"transformedImage"`
	Style            string `json:"style"`
	Provider         string `json:"provider"`
	Model            string `json:"model"`
}

type uploadResponse struct {
	Image      string `json:"image"`
	MIMEType   string `json:"mimeType"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Compressed bool   `json:"compressed"`
	Degraded   bool   `json:"degraded"`
}

type styleResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) listStyles(w http.ResponseWriter, r *http.Request) {
	list := s.gateway.Catalog().List()
	out := make([]styleResponse, 0, len(list))
	for _, d := range list {
		out = append(out, styleResponse{ID: d.ID, Name: d.DisplayName, Description: d.Description})
	}
	writeJSON(w, http.StatusOK, out)
}

// upload runs a picked or dropped file through the acquirer and returns it as
// a data URI ready for /api/transform.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	// Room for the multipart envelope around a maximal file.
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+1<<20)

	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeMessage(w, http.StatusBadRequest, "Missing image", "")
			return
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusBadRequest, acquire.ErrTooLarge.Error(), "")
			return
		}
		writeMessage(w, http.StatusBadRequest, "Could not read upload", err.Error())
		return
	}
	defer file.Close()

	res, err := s.acquirer.Acquire(file, header.Header.Get("Content-Type"))
	if err != nil {
		log.Warn().Err(err).Str("filename", header.Filename).Msg("upload rejected")
		writeMessage(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if res.Degraded {
		log.Warn().Err(res.Reason).Str("filename", header.Filename).Msg("returning uncompressed upload")
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Image:      res.Image.String(),
		MIMEType:   res.Image.MIMEType,
		Width:      res.Width,
		Height:     res.Height,
		Compressed: res.Compressed,
		Degraded:   res.Degraded,
	})
}

func (s *Server) transform(w http.ResponseWriter, r *http.Request) {
	// base64 inflates by 4/3; leave headroom for the JSON wrapper.
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes*2)

	var req transformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	req.Image = strings.TrimSpace(req.Image)
	req.Style = strings.TrimSpace(req.Style)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, &gateway.Error{Kind: gateway.KindMissingInput, Op: "transform", Message: "Missing image or style"})
		return
	}

	img, err := datauri.Parse(req.Image)
	if err != nil {
		writeError(w, &gateway.Error{
			Kind:    gateway.KindInvalidImage,
			Op:      "transform",
			Message: "Invalid image data",
			Details: err.Error(),
			Cause:   err,
		})
		return
	}

	res, err := s.gateway.Transform(r.Context(), img, req.Style)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("style", req.Style).Msg("transform failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, transformResponse{
		TransformedImage: res.ImageReference,
		Style:            res.Style,
		Provider:         res.Provider,
		Model:            res.Model,
	})
}

// download serves a result as an attachment. Remote results are fetched from
// the allowlisted provider hosts over https only; inline results are decoded.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	src := strings.TrimSpace(r.URL.Query().Get("src"))
	if src == "" {
		writeMessage(w, http.StatusBadRequest, "Missing src", "")
		return
	}

	var (
		data     []byte
		mimeType string
	)
	if strings.HasPrefix(src, "data:") {
		img, err := datauri.Parse(src)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "Invalid image data", err.Error())
			return
		}
		data, mimeType = img.Data, img.MIMEType
	} else {
		u, err := url.Parse(src)
		if err != nil || u.Scheme != "https" || u.Hostname() == "" {
			writeMessage(w, http.StatusBadRequest, "Only https image URLs can be downloaded", "")
			return
		}
		if !hostAllowed(u.Hostname(), s.opts.DownloadHosts) {
			writeMessage(w, http.StatusBadRequest, "Download host is not allowed", u.Hostname())
			return
		}
		data, _, err = providers.DownloadFile(r.Context(), s.opts.Client, u.String(), s.opts.MaxDownloadBytes)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("host", u.Hostname()).Msg("download failed")
			writeMessage(w, http.StatusBadGateway, "Failed to download image", err.Error())
			return
		}
		// Provider CDNs are not trusted to label their content.
		mimeType = datauri.NormalizeType(mimetype.Detect(data).String())
		if !datauri.IsSupported(mimeType) {
			writeMessage(w, http.StatusBadGateway, "Downloaded file is not an image", mimeType)
			return
		}
	}

	filename := fmt.Sprintf("photoart-%s.%s", time.Now().Format("20060102-150405"), datauri.ExtensionFor(mimeType))
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(data)
}

func hostAllowed(host string, allowed []string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, a := range allowed {
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}
