// services/metadata_service.go
package services

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"competition-escrow-system/models"
	"competition-escrow-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

// MetadataService stores and serves the display-layer strings for a
// competition. The core never interprets them.
type MetadataService struct {
	DB *gorm.DB
}

func NewMetadataService(db *gorm.DB) *MetadataService {
	return &MetadataService{DB: db}
}

var titleCaser = cases.Title(language.English)

// SetMetadata creates or replaces the metadata row for a competition. Admin
// only. An empty name falls back to a title-cased default.
func (s *MetadataService) SetMetadata(c *fiber.Ctx) error {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		ImageURL    string `json:"image_url"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}

	id := c.Params("id")
	var comp models.Competition
	if err := s.DB.First(&comp, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "competition not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	name := req.Name
	if name == "" {
		name = titleCaser.String(fmt.Sprintf("competition %d", comp.ID))
	}

	meta := models.CompetitionMetadata{
		CompetitionID: comp.ID,
		Name:          name,
		Slug:          slug.Make(name),
		Description:   req.Description,
		ImageURL:      req.ImageURL,
	}
	if err := s.DB.Save(&meta).Error; err != nil {
		log.Printf("Failed to save metadata for competition %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save metadata"})
	}
	return c.JSON(meta)
}

// GetMetadata returns the metadata row for a competition.
func (s *MetadataService) GetMetadata(c *fiber.Ctx) error {
	var meta models.CompetitionMetadata
	if err := s.DB.First(&meta, "competition_id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "metadata not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(meta)
}

// RenderTokenURI builds the descriptor document for a competition and returns
// a URI for it: uploaded to R2 when configured, otherwise an inline
// data:application/json;base64 URI.
func (s *MetadataService) RenderTokenURI(c *fiber.Ctx) error {
	id := c.Params("id")
	var comp models.Competition
	if err := s.DB.First(&comp, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "competition not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	var meta models.CompetitionMetadata
	if err := s.DB.First(&meta, "competition_id = ?", comp.ID).Error; err != nil &&
		!errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	name := meta.Name
	if name == "" {
		name = titleCaser.String(fmt.Sprintf("competition %d", comp.ID))
	}

	descriptor := fiber.Map{
		"name":        name,
		"description": meta.Description,
		"image":       meta.ImageURL,
		"attributes": []fiber.Map{
			{"trait_type": "State", "value": comp.State},
			{"trait_type": "Prize Pool", "value": comp.PrizePool},
			{"trait_type": "Total Tickets", "value": comp.TotalTickets},
			{"trait_type": "Deadline", "display_type": "date", "value": comp.Deadline},
		},
	}
	payload, err := json.Marshal(descriptor)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to render descriptor"})
	}

	if utils.R2Enabled() {
		key := fmt.Sprintf("competitions/%d/metadata.json", comp.ID)
		uri, err := utils.UploadBytesToR2(key, "application/json", payload)
		if err != nil {
			log.Printf("R2 upload failed for competition %s: %v", id, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to upload descriptor"})
		}
		return c.JSON(fiber.Map{"token_uri": uri})
	}

	uri := "data:application/json;base64," + base64.StdEncoding.EncodeToString(payload)
	return c.JSON(fiber.Map{"token_uri": uri})
}
