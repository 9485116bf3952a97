package api

import (
	"errors"
	"log"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/tether007/greenChain-Advisory/internal/channel"
	"github.com/tether007/greenChain-Advisory/internal/models"
	"github.com/tether007/greenChain-Advisory/internal/orchestrator"
	"gorm.io/gorm"
)

type registerAnalysisRequest struct {
	AnalysisID    string `json:"analysisId" validate:"required"`
	FarmerAddress string `json:"farmerAddress" validate:"required"`
	ImageHash     string `json:"imageHash" validate:"required"`
}

// handleRegisterAnalysis records a confirmed on-chain analysis id. The insert
// is idempotent: registering the same id twice answers ok both times.
func (s *Server) handleRegisterAnalysis(c *fiber.Ctx) error {
	var req registerAnalysisRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := s.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "analysisId, farmerAddress, imageHash are required"})
	}

	if err := s.dispatch.Register(c.UserContext(), req.AnalysisID, req.FarmerAddress, req.ImageHash); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create analysis record"})
	}

	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) handleAnalyze(c *fiber.Ctx) error {
	analysisID := c.FormValue("analysisId")
	if analysisID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Analysis ID is required"})
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "No image file provided"})
	}
	if fileHeader.Size > maxUploadBytes {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Image exceeds 10MB limit"})
	}
	mimeType := fileHeader.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Only image files are allowed"})
	}

	if err := os.MkdirAll(s.uploadsDir, 0755); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Analysis failed. Please try again later."})
	}
	uploadPath := filepath.Join(s.uploadsDir, uuid.New().String()+filepath.Ext(fileHeader.Filename))
	if err := c.SaveFile(fileHeader, uploadPath); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Analysis failed. Please try again later."})
	}

	result, err := s.dispatch.Run(c.UserContext(), analysisID, uploadPath, mimeType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Analysis not registered"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Analysis failed. Please try again later."})
	}

	return c.JSON(result)
}

func (s *Server) handleAnalysisHistory(c *fiber.Ctx) error {
	farmerAddress := c.Params("farmerAddress")

	analyses, err := s.db.ListAnalysesByFarmer(farmerAddress)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch analysis history"})
	}

	return c.JSON(analyses)
}

func (s *Server) handleReport(c *fiber.Ctx) error {
	filename := c.Params("file")
	if filename == "" || strings.ContainsAny(filename, "/\\") || strings.Contains(filename, "..") {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Report not found"})
	}

	reportPath := filepath.Join(s.reportsDir, filename)
	if _, err := os.Stat(reportPath); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Report not found"})
	}

	c.Set(fiber.HeaderContentType, "application/pdf")
	return c.SendFile(reportPath)
}

type relayCallRequest struct {
	To    string `json:"to" validate:"required"`
	Data  string `json:"data" validate:"required"`
	Value string `json:"value"`
}

// handleRelay sponsors a user transaction: the relayer signs and broadcasts
// with its own funds and reports the receipt status.
func (s *Server) handleRelay(c *fiber.Ctx) error {
	if s.relayer == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Relay not configured"})
	}

	var req relayCallRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := s.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "to and data are required"})
	}

	var value *big.Int
	if req.Value != "" {
		parsed, ok := new(big.Int).SetString(req.Value, 10)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid value"})
		}
		value = parsed
	}

	hash, status, err := s.relayer.Relay(c.UserContext(), req.To, req.Data, value)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Relay failed"})
	}

	return c.JSON(fiber.Map{"hash": hash, "status": status})
}

type paymentRequest struct {
	FarmerAddress string `json:"farmerAddress" validate:"required"`
	ImageName     string `json:"imageName" validate:"required"`
	ImageSize     int64  `json:"imageSize"`
	Gasless       bool   `json:"gasless"`
}

func (s *Server) handlePayment(c *fiber.Ctx) error {
	if s.orch == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Payments not configured"})
	}

	var req paymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := s.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "farmerAddress and imageName are required"})
	}

	result, err := s.orch.RequestPayment(c.UserContext(), orchestrator.PaymentRequest{
		Payer:       req.FarmerAddress,
		ImageName:   req.ImageName,
		ImageSize:   req.ImageSize,
		PreferRelay: req.Gasless,
	})
	if err != nil {
		return c.Status(paymentErrorStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(result)
}

func paymentErrorStatus(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidContract):
		return fiber.StatusBadRequest
	case errors.Is(err, orchestrator.ErrPaymentTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, orchestrator.ErrPaymentReverted),
		errors.Is(err, orchestrator.ErrPaymentEventMissing):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// handleChannelFlow runs the full gasless demo sequence. The step timeline is
// returned even when the flow fails part-way.
func (s *Server) handleChannelFlow(c *fiber.Ctx) error {
	if s.orch == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Payments not configured"})
	}

	farmerAddress := c.FormValue("farmerAddress")
	if farmerAddress == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "farmerAddress is required"})
	}

	flowReq := orchestrator.FlowRequest{Payer: farmerAddress}
	if fileHeader, err := c.FormFile("image"); err == nil {
		mimeType := fileHeader.Header.Get("Content-Type")
		if !strings.HasPrefix(mimeType, "image/") {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Only image files are allowed"})
		}
		if err := os.MkdirAll(s.uploadsDir, 0755); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Flow failed"})
		}
		uploadPath := filepath.Join(s.uploadsDir, uuid.New().String()+filepath.Ext(fileHeader.Filename))
		if err := c.SaveFile(fileHeader, uploadPath); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Flow failed"})
		}
		flowReq.ImageName = fileHeader.Filename
		flowReq.ImageSize = fileHeader.Size
		flowReq.ImagePath = uploadPath
		flowReq.MimeType = mimeType
	} else {
		flowReq.ImageName = "sim"
	}

	result, err := s.orch.RunChannelFlow(c.UserContext(), flowReq)
	if err != nil {
		// Dispatch removes the upload when the flow reaches it; a failure
		// before that point leaves the file behind.
		if flowReq.ImagePath != "" {
			if rmErr := os.Remove(flowReq.ImagePath); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Printf("upload cleanup failed for %s: %v", flowReq.ImagePath, rmErr)
			}
		}
		return c.Status(paymentErrorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
			"steps": result.Steps,
		})
	}

	return c.JSON(result)
}

type faucetRequest struct {
	FarmerAddress string `json:"farmerAddress" validate:"required"`
}

func (s *Server) handleFaucet(c *fiber.Ctx) error {
	if s.channels == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Clearing node not configured"})
	}

	var req faucetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := s.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "farmerAddress is required"})
	}

	if err := s.channels.Session(req.FarmerAddress).RequestFaucet(c.UserContext()); err != nil {
		if errors.Is(err, channel.ErrFaucet) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Faucet request failed"})
	}

	return c.JSON(fiber.Map{"ok": true})
}

type listItemRequest struct {
	ItemID        string `json:"itemId" validate:"required"`
	FarmerAddress string `json:"farmerAddress" validate:"required"`
	Title         string `json:"title" validate:"required"`
	Description   string `json:"description"`
	Price         string `json:"price" validate:"required"`
}

func (s *Server) handleMarketplaceList(c *fiber.Ctx) error {
	var req listItemRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := s.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing required fields"})
	}

	listing := &models.Listing{
		ItemID:        req.ItemID,
		FarmerAddress: req.FarmerAddress,
		Title:         req.Title,
		Description:   req.Description,
		Price:         req.Price,
	}
	if err := s.db.CreateListing(listing); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list item"})
	}

	return c.JSON(fiber.Map{"ok": true, "message": "Item listed successfully"})
}

func (s *Server) handleMarketplaceItems(c *fiber.Ctx) error {
	listings, err := s.db.ListOpenListings()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch items"})
	}
	return c.JSON(listings)
}

type buyItemRequest struct {
	ItemID       string `json:"itemId" validate:"required"`
	BuyerAddress string `json:"buyerAddress" validate:"required"`
}

func (s *Server) handleMarketplaceBuy(c *fiber.Ctx) error {
	var req buyItemRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := s.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "itemId and buyerAddress required"})
	}

	if err := s.db.MarkListingSold(req.ItemID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Item not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to buy item"})
	}

	return c.JSON(fiber.Map{"ok": true, "message": "Item " + req.ItemID + " marked as sold to " + req.BuyerAddress})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "timestamp": time.Now().Format(time.RFC3339)})
}
