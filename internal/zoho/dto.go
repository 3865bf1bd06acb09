package zoho

// TokenResponse is the JSON body returned by the accounts token endpoint for
// a successful refresh-token grant. RefreshToken is only populated when Zoho
// rotates it, which it normally does not on refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	APIDomain    string `json:"api_domain,omitempty"`
}

// LeadObject is one record in the CRM v6 Leads payload. Last_Name is the only
// field Zoho requires; everything else is optional.
type LeadObject struct {
	LastName               string `json:"Last_Name"`
	FirstName              string `json:"First_Name,omitempty"`
	Email                  string `json:"Email,omitempty"`
	Phone                  string `json:"Phone,omitempty"`
	Company                string `json:"Company,omitempty"`
	LeadSource             string `json:"Lead_Source,omitempty"`
	Description            string `json:"Description,omitempty"`
	LeadStatus             string `json:"Lead_Status,omitempty"`
	Rating                 string `json:"Rating,omitempty"`
	ProductInterest        string `json:"Product_Interest,omitempty"`
	InquiryType            string `json:"Inquiry_Type,omitempty"`
	AdditionalRequirements string `json:"Additional_Requirements,omitempty"`
}

// createLeadRequest wraps records the way the bulk-insert endpoint expects.
type createLeadRequest struct {
	Data []LeadObject `json:"data"`
}

// createLeadResponse mirrors the relevant slice of the insert response:
// {"data":[{"details":{"id":"..."},"status":"success",...}]}.
type createLeadResponse struct {
	Data []struct {
		Code    string `json:"code"`
		Status  string `json:"status"`
		Details struct {
			ID string `json:"id"`
		} `json:"details"`
	} `json:"data"`
}
