package web

import "github.com/gofiber/fiber/v3"

// Register mounts every API route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)
	router.Get("/node-types", h.GetNodeTypes)

	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/activate", h.ActivateWorkflow)
	w.Post("/:id/deactivate", h.DeactivateWorkflow)
	w.Post("/:id/executions", h.ExecuteWorkflow)
	w.Get("/:id/executions", h.ListWorkflowExecutions)
	w.Post("/:id/requests", h.RequestExecution)

	e := router.Group("/executions")
	e.Post("/resume-due", h.ResumeDue)
	e.Get("/:id", h.GetExecution)
	e.Get("/:id/steps", h.GetExecutionSteps)
	e.Post("/:id/pause", h.PauseExecution)
	e.Post("/:id/resume", h.ResumeExecution)
	e.Post("/:id/cancel", h.CancelExecution)

	s := router.Group("/submissions")
	s.Get("/", h.ListSubmissions)
	s.Post("/", h.EnqueueSubmission)
	s.Post("/process", h.ProcessQueue)
	s.Get("/:id", h.GetSubmission)
	s.Get("/:id/history", h.GetSubmissionHistory)
	s.Post("/:id/cancel", h.CancelSubmission)
	s.Post("/:id/requeue", h.RequeueSubmission)

	c := router.Group("/credentials")
	c.Get("/", h.ListCredentials)
	c.Post("/", h.StoreCredential)
	c.Post("/:id/test", h.TestCredential)
	c.Delete("/:id", h.DeleteCredential)

	p := router.Group("/portals")
	p.Get("/", h.ListPortals)
	p.Put("/:target", h.SavePortal)
}
