package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		recognizer  *mockRecognizer
		registry    *prometheus.Registry
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		recognizer = &mockRecognizer{text: "NET-TOTAL: 108.00"}
		registry = prometheus.NewRegistry()
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		service = NewServiceWithDeps(db, &mockCounter{}, storage, recognizer, nil, nil, &mockTimeSource{}, NewMetrics(registry))
		server = NewServerWithMux(service, auth, http.NewServeMux(), registry)
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	do := func(method, path, body string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		if auth.Username != "" {
			req.SetBasicAuth(auth.Username, auth.Password)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, v)).To(Succeed())
	}

	seed := func(total, category string) {
		_, err := db.InsertReceipt(decimal.RequireFromString(total), "2024-01-01 12:00:00", category)
		Expect(err).NotTo(HaveOccurred())
	}

	Describe("handleListReceipts", func() {
		When("receipts exist", func() {
			BeforeEach(func() {
				seed("10.00", "Food")
				seed("2.5", "")
			})

			It("should return all receipts with two-decimal totals", func() {
				resp := do("GET", "/api/receipts", "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var raw []map[string]any
				decode(resp, &raw)
				Expect(raw).To(HaveLen(2))
				Expect(raw[0]["total"]).To(Equal("10.00"))
				Expect(raw[1]["total"]).To(Equal("2.50"))
				Expect(raw[1]["category"]).To(Equal(DefaultCategory))
			})
		})

		When("no receipts exist", func() {
			It("should return an empty array", func() {
				resp := do("GET", "/api/receipts", "")
				defer resp.Body.Close()
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
			})
		})

		When("service returns an error", func() {
			BeforeEach(func() {
				db.listErr = errors.New("service error")
			})

			It("should return status Internal Server Error", func() {
				resp := do("GET", "/api/receipts", "")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				body, _ := io.ReadAll(resp.Body)
				Expect(string(body)).To(ContainSubstring("Internal server error"))
			})
		})
	})

	Describe("handleAddReceipt", func() {
		It("should create a receipt from a numeric total", func() {
			resp := do("POST", "/api/receipts", `{"total": 42.5, "timestamp": "2024-02-03T10:30", "category": "Fuel"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var receipt Receipt
			decode(resp, &receipt)
			Expect(receipt.ID).To(Equal(uint64(1)))
			Expect(receipt.Total.StringFixed(2)).To(Equal("42.50"))
			Expect(receipt.Timestamp).To(Equal("2024-02-03 10:30:00"))
			Expect(db.receipts).To(HaveLen(1))
		})

		It("should accept the total as a string", func() {
			resp := do("POST", "/api/receipts", `{"total": "7.10", "timestamp": "2024-02-03 10:30:00"}`)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(db.receipts[1].Category).To(Equal(DefaultCategory))
		})

		It("should reject a malformed timestamp", func() {
			resp := do("POST", "/api/receipts", `{"total": 1, "timestamp": "03/02/2024"}`)
			var body map[string]string
			decode(resp, &body)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(body["error"]).To(ContainSubstring("timestamp"))
			Expect(db.receipts).To(BeEmpty())
		})

		It("should reject a negative total", func() {
			resp := do("POST", "/api/receipts", `{"total": -5, "timestamp": "2024-02-03 10:30:00"}`)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should reject an invalid body", func() {
			resp := do("POST", "/api/receipts", `not json`)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleGetReceipt", func() {
		BeforeEach(func() {
			seed("3.30", "Food")
		})

		It("should return the receipt", func() {
			resp := do("GET", "/api/receipts/1", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var receipt Receipt
			decode(resp, &receipt)
			Expect(receipt.Category).To(Equal("Food"))
		})

		It("should return Not Found for an unknown id", func() {
			resp := do("GET", "/api/receipts/9", "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should return Bad Request for a non-numeric id", func() {
			resp := do("GET", "/api/receipts/abc", "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleUpdateTotal", func() {
		BeforeEach(func() {
			seed("3.30", "Food")
		})

		It("should return the updated receipt", func() {
			resp := do("PUT", "/api/receipts/1/total", `{"total": "4.445"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var receipt Receipt
			decode(resp, &receipt)
			Expect(receipt.Total.StringFixed(2)).To(Equal("4.45"))
		})

		It("should return Not Found for an unknown id", func() {
			resp := do("PUT", "/api/receipts/2/total", `{"total": 1}`)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should reject a malformed total", func() {
			resp := do("PUT", "/api/receipts/1/total", `{"total": "abc"}`)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(db.receipts[1].Total.StringFixed(2)).To(Equal("3.30"))
		})
	})

	Describe("handleUpdateCategory", func() {
		BeforeEach(func() {
			seed("3.30", "Food")
		})

		It("should recategorize the receipt", func() {
			resp := do("PUT", "/api/receipts/1/category", `{"category": "Travel"}`)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.receipts[1].Category).To(Equal("Travel"))
		})

		It("should reset an empty category", func() {
			resp := do("PUT", "/api/receipts/1/category", `{"category": ""}`)
			resp.Body.Close()
			Expect(db.receipts[1].Category).To(Equal(DefaultCategory))
		})
	})

	Describe("handleDeleteReceipt", func() {
		BeforeEach(func() {
			seed("3.30", "Food")
		})

		It("should return No Content", func() {
			resp := do("DELETE", "/api/receipts/1", "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.receipts).To(BeEmpty())
		})

		It("should return Not Found for an unknown id", func() {
			resp := do("DELETE", "/api/receipts/5", "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleSummary", func() {
		BeforeEach(func() {
			seed("10.10", "Food")
			seed("0.20", "Food")
			seed("5.00", "")
		})

		It("should report totals", func() {
			resp := do("GET", "/api/summary", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var summary struct {
				Total      string `json:"total"`
				Count      int    `json:"count"`
				Categories []struct {
					Category string `json:"category"`
					Count    int    `json:"count"`
					Total    string `json:"total"`
				} `json:"categories"`
			}
			decode(resp, &summary)
			Expect(summary.Total).To(Equal("15.30"))
			Expect(summary.Count).To(Equal(3))
			Expect(summary.Categories).To(HaveLen(2))
			Expect(summary.Categories[0].Total).To(Equal("10.30"))
		})
	})

	Describe("handleCapture", func() {
		upload := func(data []byte) *http.Response {
			var b bytes.Buffer
			writer := multipart.NewWriter(&b)
			part, err := writer.CreateFormFile("file", "receipt.png")
			Expect(err).NotTo(HaveOccurred())
			part.Write(data)
			writer.Close()

			resp, err := http.Post(ghttpServer.URL()+"/api/captures", writer.FormDataContentType(), &b)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		When("the total is read", func() {
			It("should return Created with the recorded receipt", func() {
				resp := upload(pngFrame().Data)
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var result CaptureResult
				decode(resp, &result)
				Expect(result.Sequence).To(Equal(uint64(1)))
				Expect(result.Image).To(Equal("1.png"))
				Expect(result.Receipt).NotTo(BeNil())
				Expect(result.Receipt.Total.StringFixed(2)).To(Equal("108.00"))
			})
		})

		When("no total can be read", func() {
			BeforeEach(func() {
				recognizer.text = "NOTHING HERE"
			})

			It("should return Unprocessable Entity with the stored image", func() {
				resp := upload(pngFrame().Data)
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

				var body map[string]any
				decode(resp, &body)
				Expect(body["image"]).To(Equal("1.png"))
				Expect(body["sequence"]).To(BeNumerically("==", 1))
				Expect(db.receipts).To(BeEmpty())
			})
		})

		When("the upload is empty", func() {
			It("should return Bad Request", func() {
				resp := upload(nil)
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(storage.files).To(BeEmpty())
			})
		})

		When("no file is attached", func() {
			It("should return Bad Request", func() {
				var b bytes.Buffer
				writer := multipart.NewWriter(&b)
				writer.WriteField("note", "no file")
				writer.Close()
				resp, err := http.Post(ghttpServer.URL()+"/api/captures", writer.FormDataContentType(), &b)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleGetImage", func() {
		It("should serve a stored image", func() {
			storage.files["7.png"] = pngFrame().Data
			resp := do("GET", "/api/images/7.png", "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
		})

		It("should return Not Found for a missing image", func() {
			resp := do("GET", "/api/images/8.png", "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleExport", func() {
		It("should return an xlsx attachment", func() {
			seed("1.00", "")
			resp := do("GET", "/api/export.xlsx", "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal(xlsxContentType))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("receipts.xlsx"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			// xlsx is a zip archive
			Expect(body[:2]).To(Equal([]byte("PK")))
		})
	})

	Describe("metrics", func() {
		It("should expose the ledger collectors", func() {
			seed("1.00", "")
			service.metrics.write(opInsert)
			resp := do("GET", "/metrics", "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`receipt_ledger_ledger_writes_total{op="insert"} 1`))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := do("OPTIONS", "/api/receipts", "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PUT"))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("should accept valid credentials", func() {
			resp := do("GET", "/api/receipts", "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should reject missing credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should reject wrong credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:wrong")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})
})
