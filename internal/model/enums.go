package model

// ApplicationStatus is the normalized lifecycle status of an application.
type ApplicationStatus string

const (
	StatusLodged          ApplicationStatus = "lodged"
	StatusRegistered      ApplicationStatus = "registered"
	StatusUnderAssessment ApplicationStatus = "under_assessment"
	StatusOnExhibition    ApplicationStatus = "on_exhibition"
	StatusInfoRequired    ApplicationStatus = "additional_info_required"
	StatusReferred        ApplicationStatus = "referred"
	StatusDetermined      ApplicationStatus = "determined"
	StatusApproved        ApplicationStatus = "approved"
	StatusApprovedCond    ApplicationStatus = "approved_with_conditions"
	StatusRefused         ApplicationStatus = "refused"
	StatusWithdrawn       ApplicationStatus = "withdrawn"
	StatusLapsed          ApplicationStatus = "lapsed"
	StatusAppealed        ApplicationStatus = "appealed"
	StatusUnknown         ApplicationStatus = "unknown"
)

// ApplicationType is the normalized kind of planning application.
type ApplicationType string

const (
	TypeDevelopmentApplication ApplicationType = "development_application"
	TypeComplyingDevelopment   ApplicationType = "complying_development"
	TypeConstructionCert       ApplicationType = "construction_certificate"
	TypeSubdivision            ApplicationType = "subdivision"
	TypeModification           ApplicationType = "modification"
	TypeReview                 ApplicationType = "review"
	TypeOther                  ApplicationType = "other"
)

// Category is the normalized development category.
type Category string

const (
	CategoryResidentialSingle      Category = "residential_single"
	CategoryResidentialDual        Category = "residential_dual"
	CategoryResidentialMulti       Category = "residential_multi"
	CategoryResidentialAlteration  Category = "residential_alteration"
	CategoryResidentialAncillary   Category = "residential_ancillary"
	CategoryResidentialSubdivision Category = "residential_subdivision"
	CategoryCommercialRetail       Category = "commercial_retail"
	CategoryCommercialOffice       Category = "commercial_office"
	CategoryIndustrialWarehouse    Category = "industrial_warehouse"
	CategoryIndustrialManufact     Category = "industrial_manufacturing"
	CategoryMixedUse               Category = "mixed_use"
	CategoryDemolition             Category = "demolition"
	CategoryChangeOfUse            Category = "change_of_use"
	CategorySignage                Category = "signage"
	CategoryTreeRemoval            Category = "tree_removal"
	CategoryOther                  Category = "other"
)

// Decision is the final determination on an application.
type Decision string

const (
	DecisionApproved     Decision = "approved"
	DecisionApprovedCond Decision = "approved_with_conditions"
	DecisionRefused      Decision = "refused"
	DecisionDeferred     Decision = "deferred"
	DecisionWithdrawn    Decision = "withdrawn"
	DecisionPending      Decision = "not_determined"
)
