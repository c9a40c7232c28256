package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/community-tips/internal/observability"
	"github.com/example/community-tips/internal/tips"
)

// base64 inflates by 4/3; the slack covers the text field and multipart
// framing.
const bodySlack = 64 << 10

// TipHandler serves the tip endpoints.
type TipHandler struct {
	svc           TipService
	maxImageBytes int
	logger        zerolog.Logger
}

type createTipReq struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

type commentReq struct {
	Text string `json:"text"`
}

type reportResp struct {
	Reports int  `json:"reports"`
	Deleted bool `json:"deleted"`
}

func (h *TipHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Tips())
}

func (h *TipHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "http.create_tip")
	defer span.End()
	r = r.WithContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxImageBytes)*4/3+bodySlack)

	req, err := h.decodeSubmit(r)
	if err != nil {
		h.writeTipError(w, r, err)
		return
	}

	tip, err := h.svc.Submit(ctx, req)
	if err != nil {
		h.writeTipError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("tip.id", tip.ID))
	writeJSON(w, http.StatusCreated, tip)
}

func (h *TipHandler) decodeSubmit(r *http.Request) (tips.SubmitRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return h.decodeMultipart(r)
	}

	var body createTipReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return tips.SubmitRequest{}, bodyError(err)
	}
	req := tips.SubmitRequest{Text: body.Text}
	if strings.TrimSpace(body.Image) != "" {
		img, err := tips.ParseDataURL(body.Image)
		if err != nil {
			return tips.SubmitRequest{}, err
		}
		req.Image = &img
	}
	return req, nil
}

func (h *TipHandler) decodeMultipart(r *http.Request) (tips.SubmitRequest, error) {
	if err := r.ParseMultipartForm(int64(h.maxImageBytes) + bodySlack); err != nil {
		return tips.SubmitRequest{}, bodyError(err)
	}
	req := tips.SubmitRequest{Text: r.FormValue("text")}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil
	}
	if err != nil {
		return tips.SubmitRequest{}, bodyError(err)
	}
	defer file.Close()

	if header.Size > int64(h.maxImageBytes) {
		return tips.SubmitRequest{}, tips.ErrPayloadTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(file, int64(h.maxImageBytes)+1))
	if err != nil {
		return tips.SubmitRequest{}, bodyError(err)
	}
	req.Image = &tips.Image{ContentType: header.Header.Get("Content-Type"), Data: data}
	return req, nil
}

func (h *TipHandler) Report(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.svc.Report(r.Context(), id)
	if err != nil {
		h.writeTipError(w, r, err)
		return
	}
	if !res.Found {
		writeError(w, http.StatusNotFound, "tip not found")
		return
	}
	writeJSON(w, http.StatusOK, reportResp{Reports: res.Reports, Deleted: res.Deleted})
}

func (h *TipHandler) Comment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, bodySlack)

	var body commentReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeTipError(w, r, bodyError(err))
		return
	}
	comment, err := h.svc.AddComment(r.Context(), id, body.Text)
	if err != nil {
		h.writeTipError(w, r, err)
		return
	}
	if comment.ID == "" {
		writeError(w, http.StatusNotFound, "tip not found")
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

// bodyError classifies request decoding failures.
func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return tips.ErrPayloadTooLarge
	}
	return errors.Join(tips.ErrValidation, err)
}

func (h *TipHandler) writeTipError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tips.ErrPayloadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "image is too large")
	case errors.Is(err, tips.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tips.ErrNotFound):
		writeError(w, http.StatusNotFound, "tip not found")
	default:
		observability.LoggerWithTrace(r.Context(), h.logger).Error().Err(err).Msg("tip request failed")
		writeError(w, http.StatusInternalServerError, "server error")
	}
}
