package widget

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/storyslip/storyslip-server/pkg/cache"
)

// embedScript is the loader customers paste into their sites. It finds
// every element carrying data-storyslip-widget, fetches the render
// endpoint, and injects the HTML, CSS, and driver script. It is static
// per build, so it is served with a long cache lifetime and an ETag.
const embedScript = `(function(){
  'use strict';
  var BASE=(document.currentScript&&document.currentScript.getAttribute('data-api-base'))||'';
  function mount(el){
    var id=el.getAttribute('data-storyslip-widget');
    if(!id||el.getAttribute('data-storyslip-mounted'))return;
    el.setAttribute('data-storyslip-mounted','1');
    fetch(BASE+'/widgets/public/'+encodeURIComponent(id)+'/render')
      .then(function(r){return r.json()})
      .then(function(body){
        if(!body.success)return;
        var style=document.createElement('style');
        style.textContent=body.data.css;
        document.head.appendChild(style);
        el.innerHTML=body.data.html;
        var script=document.createElement('script');
        script.textContent=body.data.js;
        el.appendChild(script);
        if(body.data.metadata&&body.data.metadata.structured_data){
          var ld=document.createElement('script');
          ld.type='application/ld+json';
          ld.textContent=JSON.stringify(body.data.metadata.structured_data);
          document.head.appendChild(ld);
        }
        if(navigator.sendBeacon){
          navigator.sendBeacon(BASE+'/widgets/public/'+encodeURIComponent(id)+'/track',
            JSON.stringify({event_type:'widget_view'}));
        }
      })
      .catch(function(){});
  }
  function boot(){
    var nodes=document.querySelectorAll('[data-storyslip-widget]');
    for(var i=0;i<nodes.length;i++)mount(nodes[i]);
  }
  if(document.readyState==='loading'){
    document.addEventListener('DOMContentLoaded',boot);
  }else{
    boot();
  }
})();
`

var embedScriptETag = fmt.Sprintf(`"%s"`, cache.HashParams(embedScript))

// ScriptHandler serves the embed loader.
// GET /embed/widget.js
func (h *Handler) ScriptHandler(c echo.Context) error {
	header := c.Response().Header()
	header.Set("ETag", embedScriptETag)
	header.Set("Cache-Control", "public, max-age=86400")

	if c.Request().Header.Get("If-None-Match") == embedScriptETag {
		return c.NoContent(http.StatusNotModified)
	}
	return c.Blob(http.StatusOK, "application/javascript; charset=utf-8", []byte(embedScript))
}
