package handlers

import (
	"io"
	"net/http"
	"strconv"

	"qbanksync/qformat"
	"qbanksync/services"

	"github.com/gin-gonic/gin"
)

const maxImportSize = 8 << 20

type QuestionHandler struct {
	bank     *services.QuestionBankService
	exchange *services.ExchangeService
	tags     *services.TagService
}

func NewQuestionHandler(bank *services.QuestionBankService, exchange *services.ExchangeService, tags *services.TagService) *QuestionHandler {
	return &QuestionHandler{
		bank:     bank,
		exchange: exchange,
		tags:     tags,
	}
}

func (h *QuestionHandler) CreateCategory(c *gin.Context) {
	var req services.CreateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	category, err := h.bank.CreateCategory(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, category)
}

func (h *QuestionHandler) GetCategory(c *gin.Context) {
	categoryID, ok := parseID(c, "id")
	if !ok {
		return
	}

	category, err := h.bank.GetCategory(c.Request.Context(), categoryID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, category)
}

func (h *QuestionHandler) ListQuestions(c *gin.Context) {
	categoryID, ok := parseID(c, "id")
	if !ok {
		return
	}

	questions, err := h.bank.ListQuestions(c.Request.Context(), categoryID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, questions)
}

func (h *QuestionHandler) CreateQuestion(c *gin.Context) {
	userID, ok := actorID(c)
	if !ok {
		return
	}

	var req services.CreateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	question, err := h.bank.CreateQuestion(c.Request.Context(), userID, &req)
	if !splitObserverError(c, err) {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, question)
}

func (h *QuestionHandler) GetQuestion(c *gin.Context) {
	questionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	question, err := h.bank.GetQuestion(c.Request.Context(), questionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, question)
}

// UpdateQuestion saves a new version and answers with it.
func (h *QuestionHandler) UpdateQuestion(c *gin.Context) {
	userID, ok := actorID(c)
	if !ok {
		return
	}
	questionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req services.UpdateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	question, err := h.bank.UpdateQuestion(c.Request.Context(), userID, questionID, &req)
	if !splitObserverError(c, err) {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, question)
}

func (h *QuestionHandler) DeleteQuestion(c *gin.Context) {
	userID, ok := actorID(c)
	if !ok {
		return
	}
	questionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	err := h.bank.DeleteQuestion(c.Request.Context(), userID, questionID)
	if !splitObserverError(c, err) {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Question deleted successfully"})
}

func (h *QuestionHandler) DeploySeed(c *gin.Context) {
	userID, ok := actorID(c)
	if !ok {
		return
	}
	questionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req services.DeploySeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	seed, err := h.bank.DeploySeed(c.Request.Context(), userID, questionID, req.Seed)
	if !splitObserverError(c, err) {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, seed)
}

func (h *QuestionHandler) GetQuestionTags(c *gin.Context) {
	questionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	tags, err := h.tags.ItemTags(c.Request.Context(), nil, questionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tags)
}

func (h *QuestionHandler) ExportQuestion(c *gin.Context) {
	questionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	doc, err := h.exchange.Export(c.Request.Context(), questionID)
	if err != nil {
		respondError(c, err)
		return
	}
	data, err := doc.Bytes()
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=question-"+strconv.FormatUint(uint64(questionID), 10)+".xml")
	c.Data(http.StatusOK, "application/xml; charset=utf-8", data)
}

// ImportQuestions reads an XML document from the body into the category.
// catfromfile=false ignores the category markers in the document.
func (h *QuestionHandler) ImportQuestions(c *gin.Context) {
	userID, ok := actorID(c)
	if !ok {
		return
	}
	categoryID, ok := parseID(c, "id")
	if !ok {
		return
	}
	catFromFile := true
	if v := c.Query("catfromfile"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid catfromfile"})
			return
		}
		catFromFile = parsed
	}

	doc, err := qformat.Parse(io.LimitReader(c.Request.Body, maxImportSize))
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.exchange.Import(c.Request.Context(), &services.ImportRequest{
		CategoryID:       categoryID,
		ActorID:          userID,
		CategoryFromFile: catFromFile,
		Document:         doc,
	})
	if !splitObserverError(c, err) {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}
