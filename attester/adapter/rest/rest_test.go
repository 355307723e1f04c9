package rest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EojEdred/Etrid-Infra-sub001/attester/adapter"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/canonical"
	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

func recordPayload(t *testing.T, rec Record) []byte {
	t.Helper()
	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	return payload
}

func TestParserDecodesRecord(t *testing.T) {
	var recipient [32]byte
	recipient[0] = 0x42
	rec := Record{
		Carrier: canonical.EncodeCarrierPayload(types.DomainEthereum, recipient),
		Amount:  "150000",
		Sender:  []byte{0x41, 0x01, 0x02}, // short sender, left-padded
		Nonce:   99,
	}
	raw := adapter.RawEvent{
		Block:       1000,
		TxID:        make([]byte, 32),
		TimestampMs: 1_700_000_000_000,
		Payload:     recordPayload(t, rec),
	}
	msg, err := NewParser(types.DomainTron).Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, types.DomainTron, msg.SourceDomain)
	assert.Equal(t, types.DomainEthereum, msg.DestinationDomain)
	assert.Equal(t, uint64(99), msg.Nonce)
	assert.Equal(t, uint64(150_000), msg.Amount.Uint64())
	assert.Equal(t, recipient, msg.Recipient)
	assert.Equal(t, byte(0x41), msg.Sender[29], "short senders are left-padded")
	assert.Equal(t, byte(0x00), msg.Sender[0])
}

func TestParserRejections(t *testing.T) {
	p := NewParser(types.DomainXRPL)
	carrier := canonical.EncodeCarrierPayload(types.DomainEthereum, [32]byte{})

	_, err := p.Parse(adapter.RawEvent{Payload: []byte("{not json")})
	assert.Error(t, err)

	_, err = p.Parse(adapter.RawEvent{Payload: recordPayload(t, Record{Carrier: []byte{0x01}, Amount: "1"})})
	assert.ErrorIs(t, err, canonical.ErrBadCarrier)

	_, err = p.Parse(adapter.RawEvent{Payload: recordPayload(t, Record{
		Carrier: canonical.EncodeCarrierPayload(types.DomainXRPL, [32]byte{}),
		Amount:  "1",
	})})
	assert.ErrorContains(t, err, "invalid destination")

	_, err = p.Parse(adapter.RawEvent{Payload: recordPayload(t, Record{Carrier: carrier, Amount: "0"})})
	assert.ErrorIs(t, err, adapter.ErrZeroAmount)

	_, err = p.Parse(adapter.RawEvent{Payload: recordPayload(t, Record{Carrier: carrier, Amount: "not-a-number"})})
	assert.ErrorContains(t, err, "parsing amount")

	_, err = p.Parse(adapter.RawEvent{Payload: recordPayload(t, Record{
		Carrier: carrier,
		Amount:  "340282366920938463463374607431768211456", // 2^128
	})})
	assert.ErrorContains(t, err, "128 bits")

	_, err = p.Parse(adapter.RawEvent{Payload: recordPayload(t, Record{
		Carrier: carrier,
		Amount:  "1",
		Sender:  make([]byte, 33),
	})})
	assert.ErrorContains(t, err, "sender too long")
}

func TestTronDriver(t *testing.T) {
	carrier := canonical.EncodeCarrierPayload(types.DomainSubstrate, [32]byte{0x01})
	deposit := "41aabbccddeeff00112233445566778899aabbccdd"
	block := map[string]interface{}{
		"blockID": "00000000000003e8aa",
		"block_header": map[string]interface{}{
			"raw_data": map[string]interface{}{"number": 1000, "timestamp": 1_700_000_000_000},
		},
		"transactions": []map[string]interface{}{
			{
				"txID": "1122334455667788990011223344556677889900112233445566778899001122",
				"raw_data": map[string]interface{}{
					"data": hex.EncodeToString(carrier),
					"contract": []map[string]interface{}{
						{
							"type": "TransferContract",
							"parameter": map[string]interface{}{
								"value": map[string]interface{}{
									"owner_address": "4100112233445566778899aabbccddeeff00112233",
									"to_address":    deposit,
									"amount":        5_000_000,
								},
							},
						},
					},
				},
			},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wallet/getnowblock", "/wallet/getblockbynum":
			require.NoError(t, json.NewEncoder(w).Encode(block))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src, err := NewSource(SourceConfig{Endpoints: []string{srv.URL}, Driver: &TronDriver{Deposit: deposit}})
	require.NoError(t, err)
	require.NoError(t, src.Connect(context.Background()))

	head, err := src.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), head)

	events, err := src.FetchRange(context.Background(), 1000, 1000)
	require.NoError(t, err)
	require.Len(t, events, 1)

	msg, err := NewParser(types.DomainTron).Parse(events[0])
	require.NoError(t, err)
	assert.Equal(t, types.DomainSubstrate, msg.DestinationDomain)
	assert.Equal(t, uint64(5_000_000), msg.Amount.Uint64())
	assert.Equal(t, byte(0x41), msg.Sender[32-21], "21-byte tron addresses are left-padded")
	assert.Equal(t, uint64(1000), msg.SourceBlock)
}

func TestStellarAmountToStroops(t *testing.T) {
	cases := map[string]string{
		"12.5":       "125000000",
		"0.0000001":  "1",
		"100":        "1000000000",
		"0.0":        "0",
		"99.9999999": "999999999",
	}
	for in, want := range cases {
		got, err := amountToStroops(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "1.00000001", "12a.5", "."} {
		_, err := amountToStroops(bad)
		assert.Error(t, err, bad)
	}
}

func TestXRPLDriverHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req xrplRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "ledger", req.Method)
		resp := map[string]interface{}{
			"result": map[string]interface{}{"ledger_index": 77_000_000, "status": "success"},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	src, err := NewSource(SourceConfig{Endpoints: []string{srv.URL}, Driver: &XRPLDriver{Deposit: "rBridge"}})
	require.NoError(t, err)
	require.NoError(t, src.Connect(context.Background()))

	head, err := src.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(77_000_000), head)
}

func TestSourceRotatesEndpoints(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer dead.Close()
	alive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := map[string]interface{}{
			"result": map[string]interface{}{"ledger_index": 5, "status": "success"},
		}
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))
	defer alive.Close()

	src, err := NewSource(SourceConfig{
		Endpoints: []string{dead.URL, alive.URL},
		Driver:    &XRPLDriver{Deposit: "rBridge"},
	})
	require.NoError(t, err)

	assert.Error(t, src.Connect(context.Background()))
	require.NoError(t, src.Connect(context.Background()), "second attempt lands on the healthy endpoint")
}
