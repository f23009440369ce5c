package faceclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPredictSendsMultipartFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict-face" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file field missing: %v", err)
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if string(data) != "jpegbytes" || hdr.Filename != "cam.jpg" {
			t.Errorf("got %q as %q", data, hdr.Filename)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"prediction":" Ada Lovelace ","confidence":0.93}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", false, "")
	p, err := c.Predict(context.Background(), strings.NewReader("jpegbytes"), "cam.jpg")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if p.Name != "Ada Lovelace" || !p.Recognized() {
		t.Errorf("prediction = %+v", p)
	}
}

func TestPredictUnknownIsNotRecognized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"prediction":"unknown","confidence":0.41}`))
	}))
	defer srv.Close()

	p, err := New(srv.URL, false, "").Predict(context.Background(), strings.NewReader("x"), "x.jpg")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if p.Recognized() {
		t.Error("unknown must not count as recognized")
	}
}

func TestPredictNoFace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"No face detected"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL, false, "").Predict(context.Background(), strings.NewReader("x"), "x.jpg")
	if !errors.Is(err, ErrNoFace) {
		t.Fatalf("err = %v, want ErrNoFace", err)
	}
}

func TestPredictErrorStatusesAreServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"invalid image", http.StatusBadRequest, `{"detail":"Invalid image"}`},
		{"wrong route", http.StatusNotFound, `{"detail":"Not Found"}`},
		{"plain 404", http.StatusNotFound, "404 page not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tc.body, tc.status)
			}))
			defer srv.Close()

			_, err := New(srv.URL, false, "").Predict(context.Background(), strings.NewReader("not-a-jpeg"), "x.jpg")
			if err == nil || errors.Is(err, ErrNoFace) {
				t.Fatalf("err = %v, want generic service error", err)
			}
		})
	}
}

func TestPredictServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL, false, "").Predict(context.Background(), strings.NewReader("x"), "x.jpg")
	if err == nil || errors.Is(err, ErrNoFace) {
		t.Fatalf("err = %v, want generic service error", err)
	}
}

func TestSkipMode(t *testing.T) {
	c := New("http://127.0.0.1:1", true, "Grace Hopper")
	p, err := c.Predict(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if p.Name != "Grace Hopper" {
		t.Errorf("name = %q", p.Name)
	}
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("Health in skip mode: %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"Hello FastAPI"}`))
	}))
	defer srv.Close()

	if err := New(srv.URL, false, "").Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}
