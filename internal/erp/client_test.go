package erp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func loginAware(t *testing.T, next http.HandlerFunc) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/b1s/v1/Login" {
			var creds map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
			require.Equal(t, "wms", creds["UserName"])
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"SessionId":"sess-1"}`))
			return
		}
		next(w, r)
	}
}

func testClient(baseURL string) *Client {
	return NewClient(ClientConfig{
		BaseURL:   baseURL,
		CompanyDB: "WMSDB",
		Username:  "wms",
		Password:  "secret",
	}, nil)
}

func TestResolveSerialNormalizesKeyCasing(t *testing.T) {
	srv := newTestServer(t, loginAware(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/b1s/v1/SQLQueries('Invoice_creation')/List", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "serial_number='SN100'", body["ParamList"])
		// Mixed key casing on purpose.
		_, _ = w.Write([]byte(`{"value":[{
			"ItemCode":"I1","itemName":"Widget","DistNumber":"SN100",
			"WhsCode":"WH1","whsName":"Main","BPLid":5,"BPLName":"Chennai",
			"CardCode":"C1","cardName":"Acme"
		}]}`))
	}))

	client := testClient(srv.URL)
	resolved, err := client.ResolveSerial(context.Background(), "SN100")
	require.NoError(t, err)
	require.Equal(t, "SN100", resolved.Serial)
	require.Equal(t, "I1", resolved.ItemCode)
	require.Equal(t, "Widget", resolved.ItemName)
	require.Equal(t, "WH1", resolved.WarehouseCode)
	require.Equal(t, "Main", resolved.WarehouseName)
	require.Equal(t, int64(5), resolved.BranchID)
	require.Equal(t, "Chennai", resolved.BranchName)
	require.Equal(t, "C1", resolved.CustomerCode)
	require.Equal(t, "Acme", resolved.CustomerName)
}

func TestResolveSerialNotFound(t *testing.T) {
	srv := newTestServer(t, loginAware(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":[]}`))
	}))

	client := testClient(srv.URL)
	_, err := client.ResolveSerial(context.Background(), "MISSING")
	require.ErrorIs(t, err, ErrSerialNotFound)
}

func TestResolveSerialEscapesQuotes(t *testing.T) {
	srv := newTestServer(t, loginAware(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "serial_number='SN''1'", body["ParamList"])
		_, _ = w.Write([]byte(`{"value":[{"ItemCode":"I1"}]}`))
	}))

	client := testClient(srv.URL)
	_, err := client.ResolveSerial(context.Background(), "SN'1")
	require.NoError(t, err)
}

func TestListBusinessPartners(t *testing.T) {
	srv := newTestServer(t, loginAware(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/b1s/v1/BusinessPartners", r.URL.Path)
		_, _ = w.Write([]byte(`{"value":[{"CardCode":"C1","CardName":"Acme"},{"CardCode":"C2","CardName":"Globex"}]}`))
	}))

	client := testClient(srv.URL)
	partners, err := client.ListBusinessPartners(context.Background())
	require.NoError(t, err)
	require.Len(t, partners, 2)
	require.Equal(t, BusinessPartner{Code: "C1", Name: "Acme"}, partners[0])
}

func TestReadRetriesOnExpiredSession(t *testing.T) {
	logins := 0
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/b1s/v1/Login":
			logins++
			_, _ = w.Write([]byte(`{"SessionId":"sess"}`))
		case "/b1s/v1/BusinessPartners":
			if logins < 2 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"value":[]}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	client := testClient(srv.URL)
	_, err := client.ListBusinessPartners(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, logins)
}

func TestSubmitInvoiceSuccess(t *testing.T) {
	srv := newTestServer(t, loginAware(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/b1s/v1/Invoices", r.URL.Path)
		var doc map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&doc))
		require.Equal(t, "C1", doc["CardCode"])
		require.Equal(t, float64(5), doc["BPL_IDAssignedToInvoice"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"DocEntry":42,"DocNum":1007,"DocTotal":1200.5}`))
	}))

	client := testClient(srv.URL)
	posted, raw, err := client.SubmitInvoice(context.Background(), InvoicePayload{
		CardCode: "C1",
		BranchID: 5,
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), posted.DocEntry)
	require.Equal(t, "1007", posted.DocNum)
	require.InDelta(t, 1200.5, posted.DocTotal, 0.001)
	require.Contains(t, string(raw), "DocEntry")
}

func TestSubmitInvoiceRemoteErrorKeepsMessage(t *testing.T) {
	srv := newTestServer(t, loginAware(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":{"value":"Serial number SN9 is not in stock"}}}`))
	}))

	client := testClient(srv.URL)
	_, raw, err := client.SubmitInvoice(context.Background(), InvoicePayload{CardCode: "C1"})
	require.Error(t, err)
	require.NotEmpty(t, raw)

	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, http.StatusBadRequest, remote.Status)
	require.Equal(t, "Serial number SN9 is not in stock", remote.Message)
}

func TestUnconfiguredClientReportsUnavailable(t *testing.T) {
	client := NewClient(ClientConfig{}, nil)
	_, err := client.ListBusinessPartners(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	require.False(t, client.Configured())
}
