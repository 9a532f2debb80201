package apperrors

import (
	"errors"
	"net/http"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestApperrors(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "apperrors Suite")
}

var _ = Describe("AppError", func() {
	It("creates an error with the correct status code and message", func() {
		err := New(ErrorTypeValidation, "bad input")
		Expect(err.Type).To(Equal(ErrorTypeValidation))
		Expect(err.StatusCode).To(Equal(http.StatusBadRequest))
		Expect(err.Error()).To(Equal("validation: bad input"))
	})

	It("includes details in the error string when present", func() {
		err := New(ErrorTypeConflict, "duplicate build").WithDetails("name already exists")
		Expect(err.Error()).To(Equal("conflict: duplicate build (name already exists)"))
	})

	It("wraps a cause and preserves it for Unwrap", func() {
		cause := errors.New("connection refused")
		err := Wrap(cause, ErrorTypeUpstream, "list failed")
		Expect(err.Cause).To(Equal(cause))
		Expect(errors.Unwrap(err)).To(Equal(cause))
	})

	DescribeTable("maps error types to HTTP status codes",
		func(t ErrorType, code int) {
			Expect(New(t, "x").StatusCode).To(Equal(code))
		},
		Entry("not found", ErrorTypeNotFound, http.StatusNotFound),
		Entry("conflict", ErrorTypeConflict, http.StatusConflict),
		Entry("rejected", ErrorTypeRejected, http.StatusBadRequest),
		Entry("unauthorized", ErrorTypeUnauthorized, http.StatusUnauthorized),
		Entry("upstream", ErrorTypeUpstream, http.StatusBadGateway),
		Entry("unavailable", ErrorTypeUnavailable, http.StatusServiceUnavailable),
		Entry("internal", ErrorTypeInternal, http.StatusInternalServerError),
	)

	Describe("IsType and GetType", func() {
		It("identifies the wrapped type", func() {
			err := NewNotFoundError("build")
			Expect(IsType(err, ErrorTypeNotFound)).To(BeTrue())
			Expect(IsType(err, ErrorTypeConflict)).To(BeFalse())
		})

		It("defaults plain errors to Internal", func() {
			err := errors.New("boom")
			Expect(GetType(err)).To(Equal(ErrorTypeInternal))
			Expect(GetStatusCode(err)).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("SafeErrorMessage", func() {
		It("passes validation messages through verbatim", func() {
			err := NewValidationError("commit_sha must be 40 hex characters")
			Expect(SafeErrorMessage(err)).To(Equal("commit_sha must be 40 hex characters"))
		})

		It("genericizes upstream errors so cluster detail never leaks", func() {
			err := Wrap(errors.New("etcd timeout"), ErrorTypeUpstream, "patch failed")
			Expect(SafeErrorMessage(err)).To(Equal("an upstream error occurred"))
			Expect(SafeErrorMessage(err)).NotTo(ContainSubstring("etcd"))
		})
	})

	Describe("LogFields", func() {
		It("includes cause and details for wrapped errors", func() {
			err := Wrapf(errors.New("conflict"), ErrorTypeUpstream, "patch failed").WithDetails("build=acme-svc-main-abc12345")
			fields := LogFields(err)
			Expect(fields["error_type"]).To(Equal("upstream"))
			Expect(fields["error_details"]).To(Equal("build=acme-svc-main-abc12345"))
			Expect(fields["underlying_error"]).To(Equal("conflict"))
		})

		It("omits detail keys entirely for plain errors", func() {
			fields := LogFields(errors.New("plain"))
			Expect(fields).NotTo(HaveKey("error_type"))
		})
	})

	Describe("Chain", func() {
		It("returns nil for no errors", func() {
			Expect(Chain()).To(BeNil())
		})

		It("returns the single error unchanged", func() {
			err := errors.New("only one")
			Expect(Chain(err)).To(Equal(err))
		})

		It("joins multiple errors and filters nils", func() {
			err := Chain(errors.New("a"), nil, errors.New("b"))
			Expect(err.Error()).To(ContainSubstring("a"))
			Expect(err.Error()).To(ContainSubstring("b"))
			Expect(err.Error()).To(ContainSubstring(" -> "))
		})
	})
})
