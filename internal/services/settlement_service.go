package services

import (
	"context"
	"encoding/xml"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/spf13/viper"

	"github.com/vestpay/backend/internal/models"
)

// SettlementService turns approved withdrawals into ISO 20022 pacs.008
// credit transfer messages addressed to the user's bank.
type SettlementService struct {
	bic      string
	currency string
}

func NewSettlementService() *SettlementService {
	viper.SetDefault("settlement.bic", "VESTPAYX")
	viper.SetDefault("settlement.currency", "NGN")

	return &SettlementService{
		bic:      viper.GetString("settlement.bic"),
		currency: viper.GetString("settlement.currency"),
	}
}

// SendPayout builds and dispatches the settlement message for an approved
// withdrawal. The ledger debit has already committed; failures here are for
// the settlement rail to retry.
func (s *SettlementService) SendPayout(ctx context.Context, req *models.WithdrawalRequest) error {
	doc, err := s.CreatePacs008(req)
	if err != nil {
		return err
	}
	return s.SendToSettlement(doc)
}

// CreatePacs008 creates a pacs.008 FIToFICustomerCreditTransfer message for
// a withdrawal payout.
func (s *SettlementService) CreatePacs008(req *models.WithdrawalRequest) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	if req.AccountNumber == "" || req.AccountName == "" {
		return nil, fmt.Errorf("%w: bank details missing on request %s", ErrValidation, req.ID)
	}

	msgID := uuid.New().String()
	now := time.Now()
	amount := models.ToMajorUnits(req.Amount)

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(now),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(s.currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&now),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG", // Clearing
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(req.ID)}[0],
					EndToEndId: common.Max35Text(req.ID),
					TxId:       &[]common.Max35Text{common.Max35Text(req.ID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(s.currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&now),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(s.bic)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text("VestPay Wallet")}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(req.BankCode),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(req.AccountName)}[0],
				},
			},
		},
	}

	return doc, nil
}

// SendToSettlement serializes the document and hands it to the settlement
// system.
func (s *SettlementService) SendToSettlement(doc interface{}) error {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}

	// TODO: replace the log line with the NIBSS submission client once the
	// settlement credentials are provisioned.
	log.Printf("[SETTLEMENT] Dispatching pacs.008 (%d bytes)", len(xmlData))
	return nil
}

// ConvertToXML converts an ISO 20022 document to an XML string.
func (s *SettlementService) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
