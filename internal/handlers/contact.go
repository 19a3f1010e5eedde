package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/contactbook-hq/contactbook-backend/internal/repos"
	"github.com/contactbook-hq/contactbook-backend/internal/services"
)

type ContactHandler struct {
	contactService services.ContactService
}

func NewContactHandler(contactService services.ContactService) *ContactHandler {
	return &ContactHandler{contactService: contactService}
}

type createContactRequest struct {
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Email     *string    `json:"email"`
	Phone     *string    `json:"phone"`
	Birthday  *time.Time `json:"birthday"`
}

type updateContactRequest struct {
	FirstName *string    `json:"first_name"`
	LastName  *string    `json:"last_name"`
	Email     *string    `json:"email"`
	Phone     *string    `json:"phone"`
	Birthday  *time.Time `json:"birthday"`
}

func contactID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "invalid contact id")
		return uuid.Nil, false
	}
	return id, true
}

func (ch *ContactHandler) Create(c *gin.Context) {
	var req createContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body")
		return
	}
	contact, err := ch.contactService.Create(c.Request.Context(), services.CreateContactInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Birthday:  req.Birthday,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, gin.H{"contact": contact})
}

func (ch *ContactHandler) Get(c *gin.Context) {
	id, ok := contactID(c)
	if !ok {
		return
	}
	contact, err := ch.contactService.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"contact": contact})
}

func (ch *ContactHandler) List(c *gin.Context) {
	limit := intQuery(c, "limit", 10)
	offset := intQuery(c, "offset", 0)
	contacts, total, err := ch.contactService.List(c.Request.Context(), limit, offset)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"contacts": contacts, "total": total, "limit": limit, "offset": offset})
}

func (ch *ContactHandler) Update(c *gin.Context) {
	id, ok := contactID(c)
	if !ok {
		return
	}
	var req updateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body")
		return
	}
	contact, err := ch.contactService.Update(c.Request.Context(), id, services.UpdateContactInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Birthday:  req.Birthday,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"contact": contact})
}

func (ch *ContactHandler) Delete(c *gin.Context) {
	id, ok := contactID(c)
	if !ok {
		return
	}
	if err := ch.contactService.Delete(c.Request.Context(), id); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": "contact deleted"})
}

func (ch *ContactHandler) Search(c *gin.Context) {
	contacts, err := ch.contactService.Search(c.Request.Context(), repos.SearchFilter{
		FirstName: c.Query("first_name"),
		LastName:  c.Query("last_name"),
		Email:     c.Query("email"),
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"contacts": contacts})
}

func (ch *ContactHandler) UpcomingBirthdays(c *gin.Context) {
	days := intQuery(c, "days", 7)
	contacts, err := ch.contactService.UpcomingBirthdays(c.Request.Context(), days)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"contacts": contacts, "days": days})
}
