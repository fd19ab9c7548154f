package services

import (
	"context"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/vestpay/backend/internal/models"
)

func approvedRequest() *models.WithdrawalRequest {
	return &models.WithdrawalRequest{
		ID:            "wr-1",
		UserID:        "user-1",
		Amount:        150000,
		BankName:      "First Bank",
		AccountNumber: "0123456789",
		AccountName:   "Ada Obi",
		BankCode:      "011",
		Status:        models.RequestStatusApproved,
	}
}

func TestSettlementService_CreatePacs008(t *testing.T) {
	viper.Set("settlement.bic", "VESTPAYX")
	viper.Set("settlement.currency", "NGN")
	service := NewSettlementService()

	t.Run("builds a credit transfer for the payout", func(t *testing.T) {
		doc, err := service.CreatePacs008(approvedRequest())
		assert.NoError(t, err)

		assert.Equal(t, "1", string(doc.GrpHdr.NbOfTxs))
		assert.Equal(t, "NGN", string(doc.GrpHdr.TtlIntrBkSttlmAmt.Ccy))
		// 150000 minor units is 1500.00 in the message.
		assert.Equal(t, 1500.00, doc.GrpHdr.TtlIntrBkSttlmAmt.Value)

		assert.Len(t, doc.CdtTrfTxInf, 1)
		tx := doc.CdtTrfTxInf[0]
		assert.Equal(t, "wr-1", string(tx.PmtId.EndToEndId))
		assert.Equal(t, 1500.00, tx.IntrBkSttlmAmt.Value)
		assert.Equal(t, "011", string(tx.CdtrAgt.FinInstnId.ClrSysMmbId.MmbId))
		assert.Equal(t, "Ada Obi", string(*tx.Cdtr.Nm))
		assert.Equal(t, "VESTPAYX", string(*tx.DbtrAgt.FinInstnId.BICFI))
	})

	t.Run("missing bank details fail before any message is built", func(t *testing.T) {
		req := approvedRequest()
		req.AccountNumber = ""

		_, err := service.CreatePacs008(req)
		assert.ErrorIs(t, err, ErrValidation)

		req = approvedRequest()
		req.AccountName = ""

		_, err = service.CreatePacs008(req)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestSettlementService_SendPayout(t *testing.T) {
	viper.Set("settlement.bic", "VESTPAYX")
	viper.Set("settlement.currency", "NGN")
	service := NewSettlementService()

	t.Run("dispatches a well-formed request", func(t *testing.T) {
		assert.NoError(t, service.SendPayout(context.Background(), approvedRequest()))
	})

	t.Run("propagates validation failures", func(t *testing.T) {
		req := approvedRequest()
		req.AccountName = ""
		assert.Error(t, service.SendPayout(context.Background(), req))
	})
}

func TestSettlementService_ConvertToXML(t *testing.T) {
	viper.Set("settlement.bic", "VESTPAYX")
	viper.Set("settlement.currency", "NGN")
	service := NewSettlementService()

	doc, err := service.CreatePacs008(approvedRequest())
	assert.NoError(t, err)

	out, err := service.ConvertToXML(doc)
	assert.NoError(t, err)
	assert.Contains(t, out, "<?xml")
	assert.Contains(t, out, "wr-1")
}
