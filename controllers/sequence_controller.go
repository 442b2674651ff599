package controller

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"pitchmail/models"
	"pitchmail/store"
	"pitchmail/utils"
	"pitchmail/worker"
)

// SingleSender sends one contact immediately. *worker.Dispatcher implements it.
type SingleSender interface {
	SendSingle(ctx context.Context, req worker.SingleSend) (*worker.SingleResult, error)
}

type SequenceController struct {
	Store    store.Store
	Sender   SingleSender
	PageSize int
	Logger   *logrus.Entry
}

func NewSequenceController(st store.Store, sender SingleSender, pageSize int) *SequenceController {
	return &SequenceController{
		Store:    st,
		Sender:   sender,
		PageSize: pageSize,
		Logger:   logrus.WithField("component", "sequence"),
	}
}

type sequenceStepInput struct {
	ScheduledDate string `json:"scheduledDate" validate:"required,datetime=2006-01-02"`
	ScheduledTime string `json:"scheduledTime" validate:"required"`
}

type createSequenceRequest struct {
	Title      string              `json:"title" validate:"required,max=255"`
	TimeZone   string              `json:"timeZone" validate:"required,timezone"`
	DataFileID *uint               `json:"dataFileId"`
	ZohoViewID string              `json:"zohoViewId"`
	SmtpID     uint                `json:"smtpId" validate:"required"`
	BccEmail   string              `json:"bccEmail" validate:"omitempty,email"`
	Steps      []sequenceStepInput `json:"steps" validate:"required,min=1,dive"`
}

// CreateSequence stores one pending step per entry, converting each local
// schedule to UTC.
func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	clientID := utils.ParseUint(c.Query("clientId"))
	if clientID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "clientId is required", nil)
	}

	var input createSequenceRequest
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	input.ZohoViewID = strings.TrimSpace(input.ZohoViewID)
	input.BccEmail = strings.TrimSpace(input.BccEmail)
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	hasFile := input.DataFileID != nil && *input.DataFileID != 0
	hasView := input.ZohoViewID != ""
	if hasFile == hasView {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "exactly one of dataFileId or zohoViewId is required", nil)
	}

	ctx := c.UserContext()
	cred, err := sc.Store.GetSmtpCredential(ctx, input.SmtpID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && cred.ClientID != clientID) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "smtp profile not found for client", nil)
	}
	if err != nil {
		utils.LogError("sequence_smtp_lookup", err, map[string]interface{}{"client_id": clientID, "smtp_id": input.SmtpID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load smtp profile", nil)
	}

	steps := make([]*models.SequenceStep, 0, len(input.Steps))
	for _, in := range input.Steps {
		at, err := utils.ScheduleToUTC(in.ScheduledDate, in.ScheduledTime, input.TimeZone)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid schedule", err)
		}
		step := &models.SequenceStep{
			ClientID:    clientID,
			Title:       strings.TrimSpace(input.Title),
			ScheduledAt: at,
			TimeZone:    input.TimeZone,
			ZohoViewID:  input.ZohoViewID,
			SmtpID:      input.SmtpID,
			BccEmail:    input.BccEmail,
			Status:      models.StepPending,
		}
		if hasFile {
			step.DataFileID = utils.Pointer(*input.DataFileID)
			step.ZohoViewID = ""
		}
		steps = append(steps, step)
	}

	if err := sc.Store.CreateSteps(ctx, steps); err != nil {
		utils.LogError("sequence_create", err, map[string]interface{}{"client_id": clientID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sequence", nil)
	}

	utils.LogEvent("sequence_created", map[string]interface{}{
		"client_id": clientID,
		"steps":     len(steps),
	})
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(steps))
}

type sendSingleRequest struct {
	ClientID   uint   `json:"clientId" validate:"required"`
	DataFileID uint   `json:"dataFileId" validate:"required"`
	ContactID  *uint  `json:"contactId"`
	SmtpID     uint   `json:"smtpId" validate:"required"`
	BccEmail   string `json:"bccEmail" validate:"omitempty,email"`
}

// SendSingleEmail sends one contact's message now and returns the next contact id.
func (sc *SequenceController) SendSingleEmail(c *fiber.Ctx) error {
	var input sendSingleRequest
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	input.BccEmail = strings.TrimSpace(input.BccEmail)
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	res, err := sc.Sender.SendSingle(c.UserContext(), worker.SingleSend{
		ClientID:   input.ClientID,
		DataFileID: input.DataFileID,
		ContactID:  input.ContactID,
		SmtpID:     input.SmtpID,
		BccEmail:   input.BccEmail,
	})
	switch {
	case errors.Is(err, worker.ErrInvalidProfile):
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid smtp profile", err)
	case errors.Is(err, store.ErrNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
	case err != nil:
		utils.LogError("single_send", err, map[string]interface{}{"client_id": input.ClientID, "data_file_id": input.DataFileID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to send email", err)
	}
	return c.JSON(utils.SuccessResponse(res))
}

// GetSuccessCount counts successful sends for a client.
func (sc *SequenceController) GetSuccessCount(c *fiber.Ctx) error {
	filter, err := auditFilter(c, sc.PageSize)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}
	count, err := sc.Store.CountSuccessfulSends(c.UserContext(), filter)
	if err != nil {
		utils.LogError("success_count_query", err, map[string]interface{}{"client_id": filter.ClientID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count sends", nil)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"count": count}))
}

func (sc *SequenceController) GetBccEmails(c *fiber.Ctx) error {
	clientID := utils.ParseUint(c.Query("clientId"))
	if clientID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "clientId is required", nil)
	}
	emails, err := sc.Store.ListBccEmails(c.UserContext(), clientID)
	if err != nil {
		utils.LogError("bcc_emails_query", err, map[string]interface{}{"client_id": clientID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch bcc emails", nil)
	}
	if emails == nil {
		emails = []string{}
	}
	return c.JSON(utils.SuccessResponse(emails))
}

// GetEmailLogs lists send attempts, newest first.
func (sc *SequenceController) GetEmailLogs(c *fiber.Ctx) error {
	filter, err := auditFilter(c, sc.PageSize)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}
	logs, err := sc.Store.ListEmailLogs(c.UserContext(), filter)
	if err != nil {
		utils.LogError("email_logs_query", err, map[string]interface{}{"client_id": filter.ClientID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch email logs", nil)
	}
	if logs == nil {
		logs = []models.EmailLog{}
	}
	return c.JSON(utils.SuccessResponse(logs))
}
