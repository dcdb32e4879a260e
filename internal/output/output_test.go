package output

import (
	"bufio"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"w3up/pkg/models"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func sampleTx() *models.TxRecord {
	return &models.TxRecord{
		Hash:        "0xabc",
		Kind:        models.TxKindRegister,
		Name:        "abc",
		Value:       big.NewInt(50),
		From:        "0x1111111111111111111111111111111111111111",
		Status:      models.TxStatusPending,
		SubmittedAt: time.Unix(1700000000, 0),
	}
}

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var out []map[string]interface{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var row map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		out = append(out, row)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestFileOutput_WritesJSONLines(t *testing.T) {
	out, err := NewFileOutput(t.TempDir(), quietLogger())
	require.NoError(t, err)

	require.NoError(t, out.WriteEvent(&models.Event{ID: "e1", Type: models.EventAlert, Message: "hi"}))
	require.NoError(t, out.WriteEvent(&models.Event{ID: "e2", Type: models.EventPhaseChanged}))
	require.NoError(t, out.WriteTx(sampleTx()))
	require.NoError(t, out.WriteEvent(nil))

	files := out.Files()
	require.NoError(t, out.Close())

	events := readLines(t, files["events"])
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0]["id"])
	assert.Equal(t, "hi", events[0]["message"])

	txs := readLines(t, files["transactions"])
	require.Len(t, txs, 1)
	assert.Equal(t, "0xabc", txs[0]["hash"])
}

func TestNewOutputWithConfig(t *testing.T) {
	out, err := NewOutputWithConfig("none", "", nil, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, NopOutput{}, out)

	out, err = NewOutputWithConfig("json", t.TempDir(), nil, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &FileOutput{}, out)
	require.NoError(t, out.Close())

	_, err = NewOutputWithConfig("kafka", "", &KafkaSettings{}, quietLogger())
	assert.Error(t, err)

	_, err = NewOutputWithConfig("parquet", "", nil, quietLogger())
	assert.Error(t, err)
}

func TestKafkaOutput_SendsToConfiguredTopics(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var msg map[string]interface{}
		if err := json.Unmarshal(val, &msg); err != nil {
			return err
		}
		if msg["type"] != string(models.EventTxSubmitted) {
			return errors.New("unexpected event type")
		}
		return nil
	})
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var msg map[string]interface{}
		if err := json.Unmarshal(val, &msg); err != nil {
			return err
		}
		if msg["value"] != "50" {
			return errors.New("unexpected tx value")
		}
		return nil
	})

	out := NewKafkaOutputWithProducer(producer, map[string]string{"events": "custom_events"}, quietLogger())
	assert.Equal(t, "custom_events", out.topic("events", DefaultEventsTopic))
	assert.Equal(t, DefaultTransactionsTopic, out.topic("transactions", DefaultTransactionsTopic))

	require.NoError(t, out.WriteEvent(&models.Event{ID: "e1", Type: models.EventTxSubmitted}))
	require.NoError(t, out.WriteTx(sampleTx()))
	require.NoError(t, out.Close())
}

func TestKafkaOutput_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	out := NewKafkaOutputWithProducer(producer, nil, quietLogger())
	err := out.WriteEvent(&models.Event{ID: "e1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, out.Close())
}

type recordingOutput struct {
	events []*models.Event
	txs    []*models.TxRecord
	err    error
}

func (r *recordingOutput) WriteEvent(e *models.Event) error {
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingOutput) WriteTx(tx *models.TxRecord) error {
	r.txs = append(r.txs, tx)
	return r.err
}

func (r *recordingOutput) Close() error { return nil }

func TestForwarder(t *testing.T) {
	rec := &recordingOutput{}
	forward := Forwarder(rec, quietLogger())

	forward(models.Event{ID: "1", Type: models.EventPhaseChanged})
	forward(models.Event{ID: "2", Type: models.EventTxSubmitted, Tx: sampleTx()})
	forward(models.Event{ID: "3", Type: models.EventTxConfirmed, Tx: sampleTx()})

	assert.Len(t, rec.events, 3)
	assert.Len(t, rec.txs, 2)
}

func TestForwarder_WriteErrorsAreLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	rec := &recordingOutput{err: errors.New("disk full")}

	Forwarder(rec, logger)(models.Event{ID: "1", Type: models.EventTxSubmitted, Tx: sampleTx()})

	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}
