package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/cheque-reconciler/internal/invoice"
	"github.com/zombor/cheque-reconciler/internal/matching"
)

// multipartBody builds an upload form with a single "file" part
func multipartBody(filename, contentType string, data []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

func decodeJSON(resp *http.Response, v interface{}) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(body, v)).To(Succeed(), string(body))
}

var _ = Describe("Server", func() {
	var (
		recognizer *mockRecognizer
		store      *invoice.Memory
		service    *Service
		auth       BasicAuth
		httpServer *httptest.Server
	)

	setupServer := func() {
		if httpServer != nil {
			httpServer.Close()
		}
		service = NewServiceWithDeps(recognizer, store, newMockStorage(), &sequentialIDs{}, &fixedTime{t: time.Date(2024, 9, 20, 9, 30, 0, 0, time.UTC)})
		httpServer = httptest.NewServer(NewServerWithMux(service, auth, http.NewServeMux()))
	}

	post := func(path, contentType string, body io.Reader) *http.Response {
		resp, err := http.Post(httpServer.URL+path, contentType, body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	postJSON := func(path, body string) *http.Response {
		return post(path, "application/json", strings.NewReader(body))
	}

	uploadCheque := func() string {
		body, contentType := multipartBody("cheque.png", "image/png", []byte("png bytes"))
		resp := post("/api/cheques", contentType, body)
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
		var view View
		decodeJSON(resp, &view)
		_, err := service.Wait(context.Background(), view.ID)
		Expect(err).NotTo(HaveOccurred())
		return view.ID
	}

	BeforeEach(func() {
		recognizer = newMockRecognizer(amountChequeText)
		store = invoice.NewMemory(invoice.SampleInvoices())
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		httpServer.Close()
		httpServer = nil
		service.Close()
	})

	Describe("POST /api/cheques", func() {
		It("should accept an image and return the uploaded cheque", func() {
			body, contentType := multipartBody("cheque.png", "image/png", []byte("png bytes"))
			resp := post("/api/cheques", contentType, body)
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

			var view View
			decodeJSON(resp, &view)
			Expect(view.ID).NotTo(BeEmpty())
			Expect(view.Stage).To(Equal(StageUploaded))
		})

		It("should fall back to the file extension for the content type", func() {
			body, contentType := multipartBody("scan.pdf", "", []byte("%PDF-1.4"))
			resp := post("/api/cheques", contentType, body)
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			var view View
			decodeJSON(resp, &view)
			Expect(view.Image.ContentType).To(Equal("application/pdf"))
		})

		It("should reject an unsupported file with 400", func() {
			body, contentType := multipartBody("notes.txt", "text/plain", []byte("hello"))
			resp := post("/api/cheques", contentType, body)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			var errBody map[string]string
			decodeJSON(resp, &errBody)
			Expect(errBody["error"]).To(ContainSubstring("unsupported file type"))
		})

		It("should reject a form without a file with 400", func() {
			body := &bytes.Buffer{}
			writer := multipart.NewWriter(body)
			Expect(writer.WriteField("other", "x")).To(Succeed())
			Expect(writer.Close()).To(Succeed())

			resp := post("/api/cheques", writer.FormDataContentType(), body)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/cheques/{id}", func() {
		It("should return the matched cheque", func() {
			id := uploadCheque()
			resp, err := http.Get(httpServer.URL + "/api/cheques/" + id)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var view View
			decodeJSON(resp, &view)
			Expect(view.Stage).To(Equal(StageMatched))
			Expect(view.Decision.MatchType).To(Equal(matching.MatchAmount))
			Expect(view.Decision.MatchedInvoice.ID).To(Equal("INV-001"))
		})

		It("should return 404 for an unknown cheque", func() {
			resp, err := http.Get(httpServer.URL + "/api/cheques/missing")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/cheques", func() {
		It("should return an empty array when there are no cheques", func() {
			resp, err := http.Get(httpServer.URL + "/api/cheques")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
		})
	})

	Describe("GET /api/cheques/{id}/image", func() {
		It("should return the image with its content type", func() {
			id := uploadCheque()
			resp, err := http.Get(httpServer.URL + "/api/cheques/" + id + "/image")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("png bytes"))
		})
	})

	Describe("POST /api/cheques/{id}/match", func() {
		It("should apply a manual selection", func() {
			id := uploadCheque()
			resp := postJSON("/api/cheques/"+id+"/match", `{"invoice_id": "INV-002"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var view View
			decodeJSON(resp, &view)
			Expect(view.Decision.MatchType).To(Equal(matching.MatchManual))
			Expect(view.Decision.MatchedInvoice.ID).To(Equal("INV-002"))
		})

		It("should return 422 for an unknown invoice", func() {
			id := uploadCheque()
			resp := postJSON("/api/cheques/"+id+"/match", `{"invoice_id": "INV-999"}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
		})

		It("should return 400 for a malformed body", func() {
			id := uploadCheque()
			resp := postJSON("/api/cheques/"+id+"/match", `{`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /api/cheques/{id}/retry", func() {
		It("should return 409 when there is nothing to retry", func() {
			id := uploadCheque()
			resp := postJSON("/api/cheques/"+id+"/retry", "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})
	})

	Describe("POST /api/cheques/{id}/complete", func() {
		It("should settle the cheque", func() {
			id := uploadCheque()
			resp := postJSON("/api/cheques/"+id+"/complete", `{"notes": "banked"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var view View
			decodeJSON(resp, &view)
			Expect(view.Stage).To(Equal(StageCompleted))
			Expect(view.Notes).To(Equal("banked"))
		})

		It("should accept an empty body", func() {
			id := uploadCheque()
			resp := post("/api/cheques/"+id+"/complete", "application/json", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should return 409 on a second completion", func() {
			id := uploadCheque()
			first := postJSON("/api/cheques/"+id+"/complete", `{}`)
			first.Body.Close()
			resp := postJSON("/api/cheques/"+id+"/complete", `{}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})
	})

	Describe("POST /api/cheques/{id}/reject and reset", func() {
		It("should flag the cheque for review and then reset it", func() {
			id := uploadCheque()
			resp := postJSON("/api/cheques/"+id+"/reject", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var view View
			decodeJSON(resp, &view)
			Expect(view.Decision.Status).To(Equal(matching.StatusNeedsReview))

			resp = postJSON("/api/cheques/"+id+"/reset", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var reset View
			decodeJSON(resp, &reset)
			Expect(reset.Stage).To(Equal(StageIdle))
			Expect(reset.Decision).To(BeNil())
		})
	})

	Describe("POST /api/analyze", func() {
		It("should extract and match the given text", func() {
			resp := postJSON("/api/analyze", `{"text": "Neha Gupta\nRs 45,999.75"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var analysis Analysis
			decodeJSON(resp, &analysis)
			Expect(analysis.Fields.PayerName).To(Equal("Neha Gupta"))
			Expect(analysis.Decision.MatchedInvoice.ID).To(Equal("INV-004"))
		})
	})

	Describe("invoices and settlements", func() {
		It("should list invoices", func() {
			resp, err := http.Get(httpServer.URL + "/api/invoices")
			Expect(err).NotTo(HaveOccurred())
			var invoices []*invoice.Invoice
			decodeJSON(resp, &invoices)
			Expect(invoices).To(HaveLen(5))
		})

		It("should return 404 for an unknown invoice", func() {
			resp, err := http.Get(httpServer.URL + "/api/invoices/INV-999")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should list settlements after completion", func() {
			id := uploadCheque()
			postJSON("/api/cheques/"+id+"/complete", `{}`).Body.Close()

			resp, err := http.Get(httpServer.URL + "/api/settlements")
			Expect(err).NotTo(HaveOccurred())
			var settlements []*invoice.Settlement
			decodeJSON(resp, &settlements)
			Expect(settlements).To(HaveLen(1))
			Expect(settlements[0].InvoiceID).To(Equal("INV-001"))
		})

		It("should serve the settlement workbook", func() {
			id := uploadCheque()
			postJSON("/api/cheques/"+id+"/complete", `{}`).Body.Close()

			resp, err := http.Get(httpServer.URL + "/api/reports/settlements.xlsx")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal(xlsxContentType))

			f, err := excelize.OpenReader(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			defer f.Close()
			rows, err := f.GetRows("Outstanding")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(5))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, httpServer.URL+"/api/cheques", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "clerk", Password: "secret"}
			setupServer()
		})

		It("should reject requests without credentials", func() {
			resp, err := http.Get(httpServer.URL + "/api/cheques")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("should reject wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, httpServer.URL+"/api/cheques", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("clerk", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should accept the right credentials", func() {
			req, err := http.NewRequest(http.MethodGet, httpServer.URL+"/api/cheques", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("clerk", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("panics", func() {
		It("should turn a panic into a 500 for that request only", func() {
			mux := http.NewServeMux()
			s := NewServerWithMux(service, BasicAuth{}, mux)
			mux.HandleFunc("GET /boom", func(http.ResponseWriter, *http.Request) {
				panic("render failed")
			})

			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))

			rec = httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/invoices", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
		})
	})
})
